package holdings

import (
	"context"
	"errors"
	"fmt"

	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/infrastructure/database"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service encapsulates holdings operations.
type Service struct {
	DB *gorm.DB
}

type HoldingView struct {
	HoldingID     uuid.UUID       `json:"holding_id"`
	PropertyID    uuid.UUID       `json:"property_id"`
	PropertyName  string          `json:"property_name"`
	TokenID       string          `json:"token_id"`
	Quantity      int64           `json:"quantity"`
	PledgedTokens int64           `json:"pledged_tokens"`
	TokenPrice    decimal.Decimal `json:"token_price"`
	CurrentValue  decimal.Decimal `json:"current_value"`
	AverageCost   decimal.Decimal `json:"average_cost"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	RentEarned    decimal.Decimal `json:"rent_earned"`
	LastRentDate  interface{}     `json:"last_rent_date"`
}

// ViewHoldings returns the user's holdings with current valuation and any
// tokens currently pledged as collateral.
func (s *Service) ViewHoldings(ctx context.Context, userID uuid.UUID) ([]HoldingView, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}
	db := s.DB.WithContext(ctx)

	var holdings []domain.Holding
	if err := db.Where("user_id = ?", userID).Find(&holdings).Error; err != nil {
		return nil, err
	}
	if len(holdings) == 0 {
		return []HoldingView{}, nil
	}

	propIDs := make([]uuid.UUID, 0, len(holdings))
	for _, h := range holdings {
		propIDs = append(propIDs, h.PropertyID)
	}
	var props []domain.Property
	if err := db.Where("property_id IN ?", propIDs).Find(&props).Error; err != nil {
		return nil, err
	}
	propMap := make(map[uuid.UUID]domain.Property, len(props))
	for _, p := range props {
		propMap[p.PropertyID] = p
	}

	type pledged struct {
		PropertyID uuid.UUID
		Total      int64
	}
	var pledges []pledged
	if err := db.Table(domain.BorrowCollateral{}.TableName()+" AS c").
		Select("c.property_id AS property_id, SUM(c.amount) AS total").
		Joins("JOIN "+domain.BorrowPosition{}.TableName()+" AS p ON p.position_id = c.position_id").
		Where("p.user_id = ? AND c.locked = ?", userID, true).
		Group("c.property_id").
		Scan(&pledges).Error; err != nil {
		return nil, err
	}
	pledgeMap := make(map[uuid.UUID]int64, len(pledges))
	for _, p := range pledges {
		pledgeMap[p.PropertyID] = p.Total
	}

	out := make([]HoldingView, len(holdings))
	for i, h := range holdings {
		p := propMap[h.PropertyID]
		out[i] = HoldingView{
			HoldingID:     h.HoldingID,
			PropertyID:    h.PropertyID,
			PropertyName:  p.Name,
			TokenID:       p.TokenID,
			Quantity:      h.Quantity,
			PledgedTokens: pledgeMap[h.PropertyID],
			TokenPrice:    p.TokenPrice,
			CurrentValue:  domain.RoundMoney(p.TokenPrice.Mul(decimal.NewFromInt(h.Quantity))),
			AverageCost:   h.AverageCost,
			TotalInvested: h.TotalInvested,
			RentEarned:    h.RentEarned,
			LastRentDate:  h.LastRentDate,
		}
	}
	return out, nil
}

// RecordPurchase adds quantity tokens bought at unitPrice to the user's
// holding, keeping a weighted average cost.
func RecordPurchase(tx *gorm.DB, userID, propertyID uuid.UUID, quantity int64, unitPrice decimal.Decimal) (*domain.Holding, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	if unitPrice.IsNegative() {
		return nil, fmt.Errorf("%w: unit price must not be negative", domain.ErrInvalidInput)
	}
	if _, err := FindProperty(tx, propertyID); err != nil {
		return nil, err
	}

	cost := domain.RoundMoney(unitPrice.Mul(decimal.NewFromInt(quantity)))
	var h domain.Holding
	err := database.ForUpdate(tx).Where("user_id = ? AND property_id = ?", userID, propertyID).First(&h).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		h = domain.Holding{
			UserID:        userID,
			PropertyID:    propertyID,
			Quantity:      quantity,
			AverageCost:   domain.RoundMoney(unitPrice),
			TotalInvested: cost,
			RentEarned:    decimal.Zero,
		}
		if err := tx.Create(&h).Error; err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		h.TotalInvested = domain.RoundMoney(h.TotalInvested.Add(cost))
		h.Quantity += quantity
		h.AverageCost = domain.RoundMoney(h.TotalInvested.Div(decimal.NewFromInt(h.Quantity)))
		if err := tx.Model(&h).Select("Quantity", "TotalInvested", "AverageCost", "UpdatedAt").Updates(&h).Error; err != nil {
			return nil, err
		}
	}

	ref := h.HoldingID
	if err := tx.Create(&domain.Transaction{
		UserID:      userID,
		Type:        domain.TxTypeTokenPurchase,
		Status:      domain.TxStatusCompleted,
		Amount:      cost,
		PropertyID:  &propertyID,
		ReferenceID: &ref,
		Description: fmt.Sprintf("Purchased %d tokens", quantity),
	}).Error; err != nil {
		return nil, err
	}
	return &h, nil
}

// Quote prices quantity tokens of an ACTIVE property at its current token price.
func (s *Service) Quote(ctx context.Context, propertyID uuid.UUID, quantity int64) (*domain.Property, decimal.Decimal, error) {
	if quantity <= 0 {
		return nil, decimal.Zero, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	prop, err := FindProperty(s.DB.WithContext(ctx), propertyID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if prop.Status != domain.PropertyStatusActive {
		return nil, decimal.Zero, fmt.Errorf("%w: property %s is not open for purchase", domain.ErrInvalidInput, propertyID)
	}
	return prop, domain.RoundMoney(prop.TokenPrice.Mul(decimal.NewFromInt(quantity))), nil
}

// FindProperty loads a property or returns ErrPropertyNotFound.
func FindProperty(tx *gorm.DB, propertyID uuid.UUID) (*domain.Property, error) {
	var p domain.Property
	if err := tx.Where("property_id = ?", propertyID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPropertyNotFound, propertyID)
		}
		return nil, err
	}
	return &p, nil
}
