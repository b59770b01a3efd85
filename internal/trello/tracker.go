package trello

import (
	"context"
	"fmt"
	"sync"

	"github.com/adlio/trello"

	"github.com/danielolaszy/scanglue/internal/logging"
	"github.com/danielolaszy/scanglue/internal/tracker"
	"github.com/danielolaszy/scanglue/pkg/models"
)

// Tracker reconciles findings as cards on one board. Closing a finding
// archives its card.
type Tracker struct {
	client   *Client
	boardID  string
	listName string

	mu     sync.Mutex
	board  *trello.Board
	listID string
}

var _ tracker.Tracker = (*Tracker)(nil)

// NewTracker creates a Tracker for the board with boardID.
func NewTracker(client *Client, boardID, listName string) (*Tracker, error) {
	if boardID == "" {
		return nil, fmt.Errorf("trello board is not configured")
	}
	return &Tracker{client: client, boardID: boardID, listName: listName}, nil
}

func (t *Tracker) loadBoard() (*trello.Board, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.board != nil {
		return t.board, nil
	}
	board, err := t.client.Board(t.boardID)
	if err != nil {
		return nil, err
	}
	t.board = board
	return board, nil
}

func (t *Tracker) targetList() (string, error) {
	board, err := t.loadBoard()
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listID != "" {
		return t.listID, nil
	}
	list, err := t.client.TargetList(board, t.listName)
	if err != nil {
		return "", err
	}
	t.listID = list.ID
	return list.ID, nil
}

// ListOpenTickets implements tracker.Tracker.
func (t *Tracker) ListOpenTickets(ctx context.Context, scope tracker.Scope) ([]models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	board, err := t.loadBoard()
	if err != nil {
		return nil, err
	}
	cards, err := t.client.OpenCards(board)
	if err != nil {
		return nil, err
	}

	var tickets []models.Ticket
	for _, card := range cards {
		if card.Closed || !tracker.InScope(card.Desc, scope) {
			continue
		}
		ticket, ok := tracker.TicketFromBody(card.Desc)
		if !ok {
			continue
		}
		fillTicket(&ticket, card)
		tickets = append(tickets, ticket)
	}

	logging.Debug("listed open trello cards",
		"board", t.boardID,
		"scope", scope.Key(),
		"total", len(cards),
		"matched", len(tickets))
	return tickets, nil
}

// Create implements tracker.Tracker.
func (t *Tracker) Create(ctx context.Context, scope tracker.Scope, f models.Finding) (models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return models.Ticket{}, err
	}
	listID, err := t.targetList()
	if err != nil {
		return models.Ticket{}, err
	}

	body := tracker.RenderBody(scope, f)
	card := &trello.Card{
		Name:   tracker.Title(f),
		Desc:   body,
		IDList: listID,
	}
	if err := t.client.CreateCard(card); err != nil {
		return models.Ticket{}, err
	}

	ticket, _ := tracker.TicketFromBody(body)
	fillTicket(&ticket, card)
	return ticket, nil
}

// Update implements tracker.Tracker.
func (t *Tracker) Update(ctx context.Context, scope tracker.Scope, ticket models.Ticket, f models.Finding) (models.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return models.Ticket{}, err
	}
	body := tracker.RenderUpdateBody(scope, ticket, f)
	card, err := t.client.UpdateCard(ticket.ID, trello.Arguments{
		"name": tracker.Title(f),
		"desc": body,
	})
	if err != nil {
		return models.Ticket{}, err
	}

	updated, _ := tracker.TicketFromBody(body)
	fillTicket(&updated, card)
	return updated, nil
}

// Close implements tracker.Tracker.
func (t *Tracker) Close(ctx context.Context, _ tracker.Scope, ticket models.Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.client.UpdateCard(ticket.ID, trello.Arguments{"closed": "true"})
	return err
}

func fillTicket(ticket *models.Ticket, card *trello.Card) {
	ticket.ID = card.ID
	ticket.Key = card.ShortLink
	ticket.URL = card.ShortURL
	if ticket.URL == "" {
		ticket.URL = card.URL
	}
}
