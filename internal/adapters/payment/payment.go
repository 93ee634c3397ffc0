// Package payment integrates the Omise payment gateway. Charges map to
// internal bookings, product purchases and training packages; the gateway
// assigns charge ids, so first-time pushes flow through PushEntity.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"

	"github.com/courtflow/syncbridge/internal/models"
)

const listPageSize = 100

// chargeable lists the internal entity types that correspond to gateway charges
var chargeable = map[models.EntityType]bool{
	models.EntityBooking:         true,
	models.EntityProduct:         true,
	models.EntityTrainingPackage: true,
}

type Adapter struct {
	client *omise.Client
	logger *slog.Logger
}

func New(publicKey, secretKey string, logger *slog.Logger) (*Adapter, error) {
	client, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create omise client: %w", err)
	}
	return &Adapter{client: client, logger: logger}, nil
}

func (a *Adapter) System() models.ExternalSystem {
	return models.SystemPayment
}

func (a *Adapter) FetchEntity(ctx context.Context, externalID string, entityType models.EntityType) (*models.ExternalEntityData, error) {
	if err := a.supported(entityType); err != nil {
		return nil, err
	}

	charge := &omise.Charge{}
	if err := a.client.Do(charge, &operations.RetrieveCharge{ChargeID: externalID}); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to retrieve charge %s: %w", externalID, err)
	}

	entity, err := chargeToEntity(charge)
	if err != nil {
		return nil, err
	}
	return &entity, nil
}

func (a *Adapter) FetchEntities(ctx context.Context, entityType models.EntityType, since *time.Time) ([]models.ExternalEntityData, error) {
	if err := a.supported(entityType); err != nil {
		return nil, err
	}

	var entities []models.ExternalEntityData
	offset := 0
	for {
		list := operations.List{Limit: listPageSize, Offset: offset}
		if since != nil {
			list.From = *since
		}

		charges := &omise.ChargeList{}
		if err := a.client.Do(charges, &operations.ListCharges{List: list}); err != nil {
			return nil, fmt.Errorf("failed to list charges: %w", err)
		}

		for _, charge := range charges.Data {
			entity, err := chargeToEntity(charge)
			if err != nil {
				return nil, err
			}
			entities = append(entities, entity)
		}

		if len(charges.Data) < listPageSize {
			return entities, nil
		}
		offset += listPageSize
	}
}

func (a *Adapter) PushEntity(ctx context.Context, data map[string]any, entityType models.EntityType) (string, error) {
	if err := a.supported(entityType); err != nil {
		return "", err
	}

	amount, err := amountFrom(data)
	if err != nil {
		return "", err
	}
	currency, _ := data["currency"].(string)
	if currency == "" {
		currency = "thb"
	}

	create := &operations.CreateCharge{
		Amount:   amount,
		Currency: currency,
		Metadata: map[string]interface{}{
			"entity_type": string(entityType),
		},
	}
	if desc, ok := data["description"].(string); ok {
		create.Description = desc
	}
	if card, ok := data["card_token"].(string); ok {
		create.Card = card
	}
	if customer, ok := data["customer_id"].(string); ok {
		create.Customer = customer
	}
	// The gateway has no idempotency key for charge creation; retry safety
	// rests on the mapping store's unique external identity constraint
	if internalID, ok := data["id"].(string); ok {
		create.Metadata["internal_id"] = internalID
	}

	charge := &omise.Charge{}
	if err := a.client.Do(charge, create); err != nil {
		return "", fmt.Errorf("failed to create charge: %w", err)
	}

	a.logger.Info("Charge created in payment gateway", "charge_id", charge.ID, "amount", amount, "currency", currency)
	return charge.ID, nil
}

func (a *Adapter) UpdateEntity(ctx context.Context, externalID string, data map[string]any, entityType models.EntityType) (bool, error) {
	if err := a.supported(entityType); err != nil {
		return false, err
	}

	// Charges are immutable after capture; only description and metadata
	// accept updates
	update := &operations.UpdateCharge{ChargeID: externalID}
	if desc, ok := data["description"].(string); ok {
		update.Description = desc
	}

	charge := &omise.Charge{}
	if err := a.client.Do(charge, update); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to update charge %s: %w", externalID, err)
	}
	return true, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) bool {
	balance := &omise.Balance{}
	if err := a.client.Do(balance, &operations.RetrieveBalance{}); err != nil {
		a.logger.Debug("Payment gateway health probe failed", "error", err)
		return false
	}
	return true
}

func (a *Adapter) supported(entityType models.EntityType) error {
	if !chargeable[entityType] {
		return fmt.Errorf("entity type %s has no charge representation in the payment gateway", entityType)
	}
	return nil
}

// chargeToEntity flattens a charge into the engine's opaque payload shape
func chargeToEntity(charge *omise.Charge) (models.ExternalEntityData, error) {
	raw, err := json.Marshal(charge)
	if err != nil {
		return models.ExternalEntityData{}, fmt.Errorf("failed to serialize charge: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return models.ExternalEntityData{}, fmt.Errorf("failed to flatten charge: %w", err)
	}
	return models.ExternalEntityData{ExternalID: charge.ID, Data: data}, nil
}

func amountFrom(data map[string]any) (int64, error) {
	switch v := data["amount"].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, errors.New("payload has no numeric amount field")
	}
}

func isNotFound(err error) bool {
	var omiseErr *omise.Error
	if errors.As(err, &omiseErr) {
		return omiseErr.Code == "not_found"
	}
	return false
}
