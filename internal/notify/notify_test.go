package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/atiamdev/cms-backend-sub002/internal/models"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, msg Message) error {
	return m.Called(ctx, msg).Error(0)
}

type mockTemplates struct {
	mock.Mock
}

func (m *mockTemplates) GetTemplate(ctx context.Context, templateID, channel string) (*models.NotificationTemplate, error) {
	args := m.Called(ctx, templateID, channel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.NotificationTemplate), args.Error(1)
}

func TestRender(t *testing.T) {
	tmpl := &models.NotificationTemplate{
		Subject: "Invoice for {{.period}}",
		Body:    "Hi {{.student_name}}, {{.amount}} is due on {{.due_date}}. {{.unknown}}",
	}
	subject, body := Render(tmpl, map[string]string{
		"period":       "March 2025",
		"student_name": "Jane",
		"amount":       "1000.00",
		"due_date":     "15 Mar 2025",
	})
	assert.Equal(t, "Invoice for March 2025", subject)
	assert.Equal(t, "Hi Jane, 1000.00 is due on 15 Mar 2025. {{.unknown}}", body)
}

func TestInlineDispatcher_RendersAndSends(t *testing.T) {
	templates := new(mockTemplates)
	sender := new(mockSender)
	templates.On("GetTemplate", mock.Anything, "invoice_created", "whatsapp").
		Return(&models.NotificationTemplate{Subject: "s", Body: "Pay {{.amount}}"}, nil)
	sender.On("Send", mock.Anything, Message{
		Channel:   ChannelWhatsApp,
		To:        "+254700000000",
		StudentID: "abc",
		Subject:   "s",
		Body:      "Pay 500",
	}).Return(nil)

	d := NewInlineDispatcher(templates, sender)
	err := d.Dispatch(context.Background(), DeliveryRequest{
		Channel:    ChannelWhatsApp,
		TemplateID: "invoice_created",
		To:         "+254700000000",
		StudentID:  "abc",
		Data:       map[string]string{"amount": "500"},
	})
	require.NoError(t, err)
	templates.AssertExpectations(t)
	sender.AssertExpectations(t)
}

func TestInlineDispatcher_TemplateMissing(t *testing.T) {
	templates := new(mockTemplates)
	sender := new(mockSender)
	templates.On("GetTemplate", mock.Anything, "nope", "push").Return(nil, assert.AnError)

	err := NewInlineDispatcher(templates, sender).Dispatch(context.Background(), DeliveryRequest{Channel: ChannelPush, TemplateID: "nope"})
	assert.ErrorIs(t, err, assert.AnError)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestChannelRouter(t *testing.T) {
	email := new(mockSender)
	fallback := new(mockSender)
	email.On("Send", mock.Anything, mock.MatchedBy(func(m Message) bool { return m.Channel == ChannelEmail })).Return(nil)
	fallback.On("Send", mock.Anything, mock.MatchedBy(func(m Message) bool { return m.Channel == ChannelPush })).Return(nil)

	r := NewChannelRouter(fallback).Route(ChannelEmail, email)
	require.NoError(t, r.Send(context.Background(), Message{Channel: ChannelEmail}))
	require.NoError(t, r.Send(context.Background(), Message{Channel: ChannelPush}))
	email.AssertNumberOfCalls(t, "Send", 1)
	fallback.AssertNumberOfCalls(t, "Send", 1)
}

func TestCompositeSender_CollectsErrors(t *testing.T) {
	ok := new(mockSender)
	failing := new(mockSender)
	ok.On("Send", mock.Anything, mock.Anything).Return(nil)
	failing.On("Send", mock.Anything, mock.Anything).Return(errors.New("boom"))

	cs := NewCompositeSender(ok)
	cs.AddSender(nil)
	cs.AddSender(failing)
	err := cs.Send(context.Background(), Message{Channel: ChannelPush})
	assert.ErrorContains(t, err, "boom")
	ok.AssertNumberOfCalls(t, "Send", 1)

	assert.Error(t, NewCompositeSender().Send(context.Background(), Message{}))
}

func TestFileSender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "notifications.log")
	fs, err := NewFileSender(path)
	require.NoError(t, err)

	require.NoError(t, fs.Send(context.Background(), Message{Channel: ChannelEmail, To: "a@b.c", Subject: "Invoice", Body: "Body text"}))
	require.NoError(t, fs.Send(context.Background(), Message{Channel: ChannelPush, To: "s1", Subject: "Second"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "To: a@b.c, Subject: Invoice")
	assert.Contains(t, string(data), "Body text")
	assert.Contains(t, string(data), "Subject: Second")

	_, err = NewFileSender("  ")
	assert.Error(t, err)
}

func TestBuildRawEmail(t *testing.T) {
	raw := string(buildRawEmail("", Message{To: "a@b.c", Subject: "Hello", Body: "World"}))
	assert.Contains(t, raw, "To: a@b.c\r\n")
	assert.Contains(t, raw, "From: noreply@example.com\r\n")
	assert.Contains(t, raw, "Subject: Hello\r\n")
	assert.Contains(t, raw, "\r\n\r\nWorld\r\n")
}

func TestSMTPSender_RejectsOtherChannels(t *testing.T) {
	s := &SMTPSender{}
	assert.ErrorIs(t, s.Send(context.Background(), Message{Channel: ChannelPush}), ErrUnsupportedChannel)
}
