package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPENDING   OrderStatus = "pending"
	OrderStatusPREPARING OrderStatus = "preparing"
	OrderStatusCOMPLETED OrderStatus = "completed"
	OrderStatusCANCELLED OrderStatus = "cancelled"
)

// Terminal reports whether no further transition is defined out of s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCOMPLETED || s == OrderStatusCANCELLED
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPENDING, OrderStatusPREPARING, OrderStatusCOMPLETED, OrderStatusCANCELLED:
		return true
	}
	return false
}

type OrderType string

const (
	OrderTypeDINEIN   OrderType = "dine_in"
	OrderTypeTOGO     OrderType = "to_go"
	OrderTypeDELIVERY OrderType = "delivery"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeDINEIN, OrderTypeTOGO, OrderTypeDELIVERY:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCREDITCARD PaymentMethod = "credit_card"
	PaymentMethodPAYPAL     PaymentMethod = "paypal"
	PaymentMethodCASH       PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCREDITCARD, PaymentMethodPAYPAL, PaymentMethodCASH:
		return true
	}
	return false
}

// OrderItem is the line-item snapshot stored with an order.
type OrderItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int32           `json:"quantity"`
	Note     string          `json:"note"`
}

type Order struct {
	ID            uuid.UUID       `json:"id"`
	OrderNumber   int32           `json:"order_number"`
	Status        OrderStatus     `json:"status"`
	OrderType     OrderType       `json:"order_type"`
	TableNumber   string          `json:"table_number"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Total         decimal.Decimal `json:"total"`
	Items         []OrderItem     `json:"items"`
	Version       int32           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at"`
}

type RestaurantConfig struct {
	Name          string    `json:"name"`
	LogoURL       string    `json:"logo_url"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	DeliveryRange int32     `json:"delivery_range"`
	FontFamily    string    `json:"font_family"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Category struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	SortOrder int32     `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

type Product struct {
	ID          uuid.UUID       `json:"id"`
	CategoryID  uuid.UUID       `json:"category_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	ImageURL    string          `json:"image_url"`
	Price       decimal.Decimal `json:"price"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type User struct {
	ID             uuid.UUID `json:"id"`
	Email          string    `json:"email"`
	FullName       string    `json:"full_name"`
	HashedPassword string    `json:"-"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}
