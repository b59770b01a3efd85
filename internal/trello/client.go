// Package trello reconciles findings as cards on a Trello board.
package trello

import (
	"fmt"
	"strings"

	"github.com/adlio/trello"

	"github.com/danielolaszy/scanglue/internal/config"
	"github.com/danielolaszy/scanglue/internal/logging"
)

// DefaultListName is the list new cards go to when none is configured.
const DefaultListName = "To Do"

// Client handles interactions with the Trello API
type Client struct {
	client *trello.Client
}

// NewClient creates a new Trello client from the API key and token.
func NewClient(cfg config.TrelloConfig) (*Client, error) {
	if cfg.Key == "" || cfg.Token == "" {
		return nil, fmt.Errorf("trello key and token are required")
	}

	logging.Info("trello configuration",
		"board", cfg.BoardID,
		"key", logging.MaskSensitive(cfg.Key),
		"token", logging.MaskSensitive(cfg.Token))

	return &Client{client: trello.NewClient(cfg.Key, cfg.Token)}, nil
}

// NewClientWithBaseURL creates a client that talks to baseURL instead of the
// public API.
func NewClientWithBaseURL(key, token, baseURL string) *Client {
	client := trello.NewClient(key, token)
	client.BaseURL = strings.TrimSuffix(baseURL, "/")
	return &Client{client: client}
}

// Board fetches a board by id.
func (c *Client) Board(boardID string) (*trello.Board, error) {
	board, err := c.client.GetBoard(boardID, trello.Defaults())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Trello board '%s': %v", boardID, err)
	}
	return board, nil
}

// TargetList finds the list new cards are created in. The named list is
// preferred, then "To Do" or "Backlog", then the first list. A board without
// lists gets a new one.
func (c *Client) TargetList(board *trello.Board, name string) (*trello.List, error) {
	lists, err := board.GetLists(trello.Defaults())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch lists for board '%s': %v", board.ID, err)
	}

	if name != "" {
		for _, l := range lists {
			if strings.EqualFold(l.Name, name) {
				return l, nil
			}
		}
	}

	for _, l := range lists {
		if strings.EqualFold(l.Name, DefaultListName) || strings.EqualFold(l.Name, "Backlog") {
			return l, nil
		}
	}

	if len(lists) > 0 {
		return lists[0], nil
	}

	if name == "" {
		name = DefaultListName
	}
	list, err := board.CreateList(name, trello.Defaults())
	if err != nil {
		return nil, fmt.Errorf("failed to create '%s' list: %v", name, err)
	}
	return list, nil
}

// OpenCards returns the open cards of board.
func (c *Client) OpenCards(board *trello.Board) ([]*trello.Card, error) {
	cards, err := board.GetCards(trello.Arguments{"filter": "open"})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cards for board '%s': %v", board.ID, err)
	}
	return cards, nil
}

// CreateCard creates card and fills in its id and links.
func (c *Client) CreateCard(card *trello.Card) error {
	if err := c.client.CreateCard(card, trello.Defaults()); err != nil {
		return fmt.Errorf("failed to create Trello card: %v", err)
	}
	return nil
}

// UpdateCard applies args to the card with id.
func (c *Client) UpdateCard(cardID string, args trello.Arguments) (*trello.Card, error) {
	card, err := c.client.GetCard(cardID, trello.Defaults())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Trello card %s: %v", cardID, err)
	}
	if err := card.Update(args); err != nil {
		return nil, fmt.Errorf("failed to update Trello card %s: %v", cardID, err)
	}
	return card, nil
}
