package handlers

import (
	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/services"
)

type orderAddressPayload struct {
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	FlatHouse  string `json:"flat_house"`
	AreaStreet string `json:"area_street"`
	Landmark   string `json:"landmark,omitempty"`
	TownCity   string `json:"town_city"`
	State      string `json:"state"`
	Pincode    string `json:"pincode"`
}

type orderItemPayload struct {
	ID           string `json:"id"`
	VariantID    string `json:"variant_id"`
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	ColorName    string `json:"color_name,omitempty"`
	Quantity     int    `json:"quantity"`
	ListPrice    int64  `json:"list_price"`
	Price        int64  `json:"price"`
	OfferPercent int    `json:"offer_percent,omitempty"`
	OfferKind    string `json:"offer_kind,omitempty"`
	Subtotal     int64  `json:"subtotal"`
	Status       string `json:"status"`
	CanceledAt   string `json:"canceled_at,omitempty"`
	ReturnedAt   string `json:"returned_at,omitempty"`
}

type orderPayload struct {
	ID             string              `json:"id"`
	OrderNumber    string              `json:"order_number"`
	UserID         string              `json:"user_id"`
	Status         string              `json:"status"`
	PaymentStatus  string              `json:"payment_status"`
	PaymentMethod  string              `json:"payment_method"`
	Paid           bool                `json:"paid"`
	Currency       string              `json:"currency"`
	Subtotal       moneyPayload        `json:"subtotal"`
	Discount       moneyPayload        `json:"discount"`
	DeliveryCharge moneyPayload        `json:"delivery_charge"`
	CouponCode     string              `json:"coupon_code,omitempty"`
	CouponDiscount moneyPayload        `json:"coupon_discount"`
	Total          moneyPayload        `json:"total"`
	AmountPaid     moneyPayload        `json:"amount_paid"`
	Refunded       moneyPayload        `json:"refunded"`
	Address        orderAddressPayload `json:"address"`
	Items          []orderItemPayload  `json:"items"`
	Gateway        string              `json:"gateway,omitempty"`
	GatewayOrderID string              `json:"gateway_order_id,omitempty"`
	CancelReason   string              `json:"cancel_reason,omitempty"`
	CanceledAt     string              `json:"canceled_at,omitempty"`
	DeliveredAt    string              `json:"delivered_at,omitempty"`
	PaidAt         string              `json:"paid_at,omitempty"`
	CreatedAt      string              `json:"created_at"`
	UpdatedAt      string              `json:"updated_at,omitempty"`
}

type returnPayload struct {
	ID           string       `json:"id"`
	OrderID      string       `json:"order_id"`
	OrderNumber  string       `json:"order_number"`
	UserID       string       `json:"user_id"`
	ItemID       string       `json:"item_id,omitempty"`
	Reason       string       `json:"reason"`
	Description  string       `json:"description,omitempty"`
	RefundAmount moneyPayload `json:"refund_amount"`
	Status       string       `json:"status"`
	ReviewNote   string       `json:"review_note,omitempty"`
	RequestedAt  string       `json:"requested_at"`
	ReviewedAt   string       `json:"reviewed_at,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	cur := order.Currency
	payload := orderPayload{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Status:         string(order.Status),
		PaymentStatus:  string(order.PaymentStatus),
		PaymentMethod:  string(order.PaymentMethod),
		Paid:           order.Paid,
		Currency:       normaliseCurrency(cur),
		Subtotal:       newMoney(order.Subtotal, cur),
		Discount:       newMoney(order.DiscountAmount, cur),
		DeliveryCharge: newMoney(order.DeliveryCharge, cur),
		CouponCode:     order.CouponCode,
		CouponDiscount: newMoney(order.CouponDiscount, cur),
		Total:          newMoney(order.Total, cur),
		AmountPaid:     newMoney(order.AmountPaid, cur),
		Refunded:       newMoney(order.RefundedAmount, cur),
		Address:        orderAddressPayload(order.Address),
		Items:          make([]orderItemPayload, 0, len(order.Items)),
		Gateway:        order.Gateway,
		GatewayOrderID: order.GatewayOrderID,
		CancelReason:   order.CancelReason,
		CanceledAt:     formatTimePointer(order.CanceledAt),
		DeliveredAt:    formatTimePointer(order.DeliveredAt),
		PaidAt:         formatTimePointer(order.PaidAt),
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		status := item.Status
		if status == "" {
			status = domain.ItemStatusActive
		}
		payload.Items = append(payload.Items, orderItemPayload{
			ID:           item.ID,
			VariantID:    item.VariantID,
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ColorName:    item.ColorName,
			Quantity:     item.Quantity,
			ListPrice:    item.ListPrice,
			Price:        item.Price,
			OfferPercent: item.OfferPercent,
			OfferKind:    string(item.OfferKind),
			Subtotal:     item.Subtotal,
			Status:       string(status),
			CanceledAt:   formatTimePointer(item.CanceledAt),
			ReturnedAt:   formatTimePointer(item.ReturnedAt),
		})
	}
	return payload
}

func buildOrderList(orders []services.Order) []orderPayload {
	out := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		out = append(out, buildOrderPayload(order))
	}
	return out
}

func buildReturnPayload(ret services.OrderReturn, currency string) returnPayload {
	return returnPayload{
		ID:           ret.ID,
		OrderID:      ret.OrderID,
		OrderNumber:  ret.OrderNumber,
		UserID:       ret.UserID,
		ItemID:       ret.ItemID,
		Reason:       ret.Reason,
		Description:  ret.Description,
		RefundAmount: newMoney(ret.RefundAmount, currency),
		Status:       string(ret.Status),
		ReviewNote:   ret.ReviewNote,
		RequestedAt:  formatTime(ret.RequestedAt),
		ReviewedAt:   formatTimePointer(ret.ReviewedAt),
	}
}

func buildReturnList(returns []services.OrderReturn, currency string) []returnPayload {
	out := make([]returnPayload, 0, len(returns))
	for _, ret := range returns {
		out = append(out, buildReturnPayload(ret, currency))
	}
	return out
}
