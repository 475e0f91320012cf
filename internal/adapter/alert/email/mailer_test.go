package email

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gomail "gopkg.in/gomail.v2"
)

type dialerStub struct {
	sent []*gomail.Message
	err  error
}

func (d *dialerStub) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func TestSendPrefixesLevel(t *testing.T) {
	t.Parallel()

	stub := &dialerStub{}
	m := &Mailer{dialer: stub, from: "bot@example.com", to: []string{"ops@example.com"}}

	require.NoError(t, m.Send(context.Background(), "budget exceeded", "details", "critical"))
	require.Len(t, stub.sent, 1)
	assert.Equal(t, []string{"[CRITICAL] budget exceeded"}, stub.sent[0].GetHeader("Subject"))
	assert.Equal(t, []string{"ops@example.com"}, stub.sent[0].GetHeader("To"))
}

func TestSendNoRecipientsIsNoop(t *testing.T) {
	t.Parallel()

	stub := &dialerStub{err: errors.New("should not dial")}
	m := &Mailer{dialer: stub, from: "bot@example.com"}

	require.NoError(t, m.Send(context.Background(), "x", "y", "warning"))
	assert.Empty(t, stub.sent)
}

func TestSendWrapsDialError(t *testing.T) {
	t.Parallel()

	stub := &dialerStub{err: errors.New("smtp down")}
	m := &Mailer{dialer: stub, from: "bot@example.com", to: []string{"ops@example.com"}}

	err := m.Send(context.Background(), "x", "y", "warning")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
}

func TestSplitRecipients(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a@x.com", "b@x.com"}, splitRecipients(" a@x.com, b@x.com ,"))
	assert.Nil(t, splitRecipients(""))
}
