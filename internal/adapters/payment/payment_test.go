package payment

import (
	"testing"

	"github.com/omise/omise-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courtflow/syncbridge/internal/models"
)

func TestAmountFrom(t *testing.T) {
	tests := []struct {
		name    string
		data    map[string]any
		want    int64
		wantErr bool
	}{
		{"int64", map[string]any{"amount": int64(15000)}, 15000, false},
		{"int", map[string]any{"amount": 15000}, 15000, false},
		{"float from json decode", map[string]any{"amount": float64(15000)}, 15000, false},
		{"missing", map[string]any{}, 0, true},
		{"wrong type", map[string]any{"amount": "15000"}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := amountFrom(tt.data)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChargeToEntity(t *testing.T) {
	charge := &omise.Charge{}
	charge.ID = "chrg_test_1"
	charge.Amount = 15000
	charge.Currency = "thb"

	entity, err := chargeToEntity(charge)
	require.NoError(t, err)
	assert.Equal(t, "chrg_test_1", entity.ExternalID)
	assert.Equal(t, "chrg_test_1", entity.Data["id"])
	assert.EqualValues(t, 15000, entity.Data["amount"])
	assert.Equal(t, "thb", entity.Data["currency"])
}

func TestSupportedEntityTypes(t *testing.T) {
	a := &Adapter{}

	assert.NoError(t, a.supported(models.EntityBooking))
	assert.NoError(t, a.supported(models.EntityProduct))
	assert.NoError(t, a.supported(models.EntityTrainingPackage))
	assert.Error(t, a.supported(models.EntityCourt))
	assert.Error(t, a.supported(models.EntityUser))
}
