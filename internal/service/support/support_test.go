package support

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalshopbot/shopbot/internal/domain"
)

type memTickets struct {
	byID map[uuid.UUID]*domain.SupportTicket
}

func newMemTickets() *memTickets {
	return &memTickets{byID: make(map[uuid.UUID]*domain.SupportTicket)}
}

func (m *memTickets) Create(_ context.Context, t *domain.SupportTicket) error {
	cp := *t
	m.byID[t.ID] = &cp
	return nil
}

func (m *memTickets) GetByID(_ context.Context, id uuid.UUID) (*domain.SupportTicket, error) {
	t, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTickets) ListByAccount(_ context.Context, accountID uuid.UUID, limit int) ([]domain.SupportTicket, error) {
	var out []domain.SupportTicket
	for _, t := range m.byID {
		if t.AccountID == accountID && len(out) < limit {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memTickets) Update(_ context.Context, id uuid.UUID, status domain.TicketStatus, messages json.RawMessage) error {
	t, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = status
	t.Messages = messages
	return nil
}

type fakeAlerter struct {
	alerts []string
}

func (f *fakeAlerter) AlertAdmins(_ context.Context, text string) {
	f.alerts = append(f.alerts, text)
}

func decodeMessages(t *testing.T, raw json.RawMessage) []domain.TicketMessage {
	t.Helper()
	var msgs []domain.TicketMessage
	require.NoError(t, json.Unmarshal(raw, &msgs))
	return msgs
}

func TestOpen_CreatesTicketAndAlertsAdmins(t *testing.T) {
	repo := newMemTickets()
	alerter := &fakeAlerter{}
	svc := NewService(repo, alerter)
	accountID := uuid.New()

	ticket, err := svc.Open(context.Background(), accountID, "", "Не пришёл ключ после оплаты заказа")
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^T-\d{6}$`), ticket.TicketRef)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Equal(t, "Не пришёл ключ после оплаты заказа", ticket.Subject)

	msgs := decodeMessages(t, ticket.Messages)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].From)

	require.Len(t, alerter.alerts, 1)
	assert.Contains(t, alerter.alerts[0], ticket.TicketRef)
}

func TestOpen_RejectsShortMessage(t *testing.T) {
	svc := NewService(newMemTickets(), &fakeAlerter{})

	_, err := svc.Open(context.Background(), uuid.New(), "", "помогите")
	require.ErrorIs(t, err, domain.ErrTicketMessageTooShort)

	_, err = svc.Open(context.Background(), uuid.New(), "", "   помогите   ")
	require.ErrorIs(t, err, domain.ErrTicketMessageTooShort)
}

func TestOpen_LongFirstMessageTruncatedIntoSubject(t *testing.T) {
	svc := NewService(newMemTickets(), &fakeAlerter{})

	long := ""
	for i := 0; i < 10; i++ {
		long += "очень длинное сообщение "
	}
	ticket, err := svc.Open(context.Background(), uuid.New(), "", long)
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(ticket.Subject)), 61)
}

func TestReply_AdminAnswersUserReopens(t *testing.T) {
	repo := newMemTickets()
	svc := NewService(repo, &fakeAlerter{})
	accountID := uuid.New()

	ticket, err := svc.Open(context.Background(), accountID, "", "Не пришёл ключ после оплаты")
	require.NoError(t, err)

	answered, err := svc.Reply(context.Background(), ticket.ID, "admin", "Проверяем, ответим в течение часа.")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusAnswered, answered.Status)
	assert.Len(t, decodeMessages(t, answered.Messages), 2)

	reopened, err := svc.Reply(context.Background(), ticket.ID, "user", "Прошёл час, ключа всё ещё нет.")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, reopened.Status)
	assert.Len(t, decodeMessages(t, reopened.Messages), 3)
}

func TestReply_UnknownTicket(t *testing.T) {
	svc := NewService(newMemTickets(), &fakeAlerter{})

	_, err := svc.Reply(context.Background(), uuid.New(), "user", "Есть кто живой?")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClose_KeepsMessages(t *testing.T) {
	repo := newMemTickets()
	svc := NewService(repo, &fakeAlerter{})

	ticket, err := svc.Open(context.Background(), uuid.New(), "", "Не пришёл ключ после оплаты")
	require.NoError(t, err)

	require.NoError(t, svc.Close(context.Background(), ticket.ID))

	stored, err := repo.GetByID(context.Background(), ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClosed, stored.Status)
	assert.Len(t, decodeMessages(t, stored.Messages), 1)
}
