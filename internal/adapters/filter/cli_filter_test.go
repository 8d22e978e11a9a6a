package filter

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/adapters/preferences"
	"github.com/mikey/sms-spam-filter/internal/adapters/storage/memory"
	"github.com/mikey/sms-spam-filter/internal/core"
	"github.com/mikey/sms-spam-filter/internal/ports"
	"github.com/mikey/sms-spam-filter/internal/rules"
)

var _ ports.MessageFilter = (*CliFilter)(nil)

func newTestFilter(t *testing.T, out *bytes.Buffer, verbose bool) *CliFilter {
	t.Helper()
	store := memory.NewStore(zap.NewNop())
	engine := rules.NewEngine(zap.NewNop())
	svc := core.NewClassificationService(engine, engine, store.Messages(), store.Reputation(), store.Audit(),
		preferences.NewStatic(core.DefaultPreferences()), zap.NewNop())

	f, err := NewCliFilter(svc, out, zap.NewNop(), verbose)
	require.NoError(t, err)
	require.NoError(t, f.Start())
	t.Cleanup(func() { assert.NoError(t, f.Stop()) })
	return f
}

func TestCliFilter_ProcessMessage(t *testing.T) {
	var out bytes.Buffer
	f := newTestFilter(t, &out, true)

	msg := &core.Message{Sender: "SBIINB", Body: "Your OTP is 482913", Timestamp: time.Now()}
	result, err := f.ProcessMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, core.CategoryInbox, result.Category)

	text := out.String()
	assert.Contains(t, text, "From: SBIINB")
	assert.Contains(t, text, "Body: Your OTP is 482913")
	assert.Contains(t, text, "Category: INBOX")
	assert.Contains(t, text, "Reasons: "+rules.ReasonOTP)
	assert.Contains(t, text, "Processing time:")
}

func TestCliFilter_ProcessMessageErrors(t *testing.T) {
	var out bytes.Buffer
	f := newTestFilter(t, &out, false)

	result, err := f.ProcessMessage(context.Background(), &core.Message{Sender: "SBIINB"})
	assert.ErrorIs(t, err, core.ErrValidation)
	require.NotNil(t, result)
	assert.Contains(t, out.String(), "Error: ")
	assert.Contains(t, out.String(), "Body length: 0 bytes")
}
