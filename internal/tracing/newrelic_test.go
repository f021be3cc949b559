package tracing

import (
	"testing"

	"example.com/backstage/services/telemetry/config"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTracerWithoutLicenseIsDisabled(t *testing.T) {
	tr, err := NewTracer(config.TracingConfig{AppName: "Telemetry Service"})
	require.NoError(t, err)
	assert.Nil(t, tr.Application())

	txn := tr.StartTransaction("sync-cycle")
	assert.Nil(t, txn)
	assert.NotPanics(t, func() {
		tr.StartSpan("fetch", txn).End()
		tr.AddAttribute(txn, "records", 3)
		tr.RecordError(txn, errors.New("boom"))
		tr.EndTransaction(txn)
		tr.Close()
	})
}
