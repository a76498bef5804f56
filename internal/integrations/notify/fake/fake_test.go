package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/BearBump/DispatchBox/internal/integrations/notify"
	"github.com/stretchr/testify/require"
)

func TestGateway_Records(t *testing.T) {
	g := New()
	id, err := g.SendSMS(context.Background(), "+15550001", "code 123456")
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, g.SendAlert(context.Background(), "D1", "new load", notify.AlertKindLoadAssigned))

	last, ok := g.LastSMS("+15550001")
	require.True(t, ok)
	require.Equal(t, "code 123456", last.Message)
	require.Len(t, g.Alerts(), 1)

	_, ok = g.LastSMS("+1999")
	require.False(t, ok)
}

func TestGateway_Errors(t *testing.T) {
	g := New()
	g.SMSErr = errors.New("down")
	_, err := g.SendSMS(context.Background(), "p", "m")
	require.Error(t, err)
	require.Empty(t, g.SMS())
}
