package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dingdong-ecommerce/api/internal/platform/httpx"
	"github.com/dingdong-ecommerce/api/internal/platform/pagination"
	"github.com/dingdong-ecommerce/api/internal/services"
)

// MeHandlers exposes the wallet and saved addresses of the signed-in user.
type MeHandlers struct {
	wallets   services.WalletService
	addresses services.AddressService
}

// NewMeHandlers constructs /me handlers.
func NewMeHandlers(wallets services.WalletService, addresses services.AddressService) *MeHandlers {
	return &MeHandlers{wallets: wallets, addresses: addresses}
}

// Routes registers the /me endpoints.
func (h *MeHandlers) Routes(r chi.Router) {
	r.Get("/me/wallet", h.getWallet)
	r.Get("/me/addresses", h.listAddresses)
	r.Post("/me/addresses/{addressID}:set-default", h.setDefaultAddress)
}

type walletTransactionPayload struct {
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Amount       moneyPayload `json:"amount"`
	BalanceAfter moneyPayload `json:"balance_after"`
	OrderID      string       `json:"order_id,omitempty"`
	Reason       string       `json:"reason"`
	Description  string       `json:"description,omitempty"`
	CreatedAt    string       `json:"created_at"`
}

type walletPayload struct {
	Balance       moneyPayload               `json:"balance"`
	Transactions  []walletTransactionPayload `json:"transactions"`
	NextPageToken string                     `json:"next_page_token,omitempty"`
}

type addressPayload struct {
	ID         string `json:"id"`
	IsDefault  bool   `json:"is_default"`
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	FlatHouse  string `json:"flat_house"`
	AreaStreet string `json:"area_street"`
	Landmark   string `json:"landmark,omitempty"`
	TownCity   string `json:"town_city"`
	State      string `json:"state"`
	Pincode    string `json:"pincode"`
}

func (h *MeHandlers) getWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wallets == nil {
		serviceUnavailable(ctx, w, "wallet_unavailable", "wallet service unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	wallet, err := h.wallets.GetWallet(ctx, userID)
	if err != nil {
		writeWalletError(ctx, w, err)
		return
	}
	page, err := h.wallets.ListTransactions(ctx, userID, services.Pagination{PageSize: params.PageSize, PageToken: params.PageToken})
	if err != nil {
		writeWalletError(ctx, w, err)
		return
	}
	payload := walletPayload{
		Balance:       newMoney(wallet.Balance, wallet.Currency),
		Transactions:  make([]walletTransactionPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, txn := range page.Items {
		payload.Transactions = append(payload.Transactions, walletTransactionPayload{
			ID:           txn.ID,
			Type:         string(txn.Type),
			Amount:       newMoney(txn.Amount, wallet.Currency),
			BalanceAfter: newMoney(txn.BalanceAfter, wallet.Currency),
			OrderID:      txn.OrderID,
			Reason:       string(txn.Reason),
			Description:  txn.Description,
			CreatedAt:    formatTime(txn.CreatedAt),
		})
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *MeHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address_unavailable", "address service unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	addresses, err := h.addresses.ListAddresses(ctx, userID)
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"addresses": buildAddressList(addresses)})
}

func (h *MeHandlers) setDefaultAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address_unavailable", "address service unavailable")
		return
	}
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	addresses, err := h.addresses.SetDefault(ctx, userID, strings.TrimSpace(chi.URLParam(r, "addressID")))
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"addresses": buildAddressList(addresses)})
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		ID:         addr.ID,
		IsDefault:  addr.IsDefault,
		FullName:   addr.FullName,
		Phone:      addr.Phone,
		FlatHouse:  addr.FlatHouse,
		AreaStreet: addr.AreaStreet,
		Landmark:   addr.Landmark,
		TownCity:   addr.TownCity,
		State:      addr.State,
		Pincode:    addr.Pincode,
	}
}

func buildAddressList(addresses []services.Address) []addressPayload {
	out := make([]addressPayload, 0, len(addresses))
	for _, addr := range addresses {
		out = append(out, buildAddressPayload(addr))
	}
	return out
}

func writeWalletError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrWalletInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrWalletUnavailable):
		serviceUnavailable(ctx, w, "wallet_unavailable", "wallet service unavailable")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("wallet_error", "failed to load wallet", http.StatusInternalServerError))
	}
}

func writeAddressError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAddressInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrAddressNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("address_not_found", "address not found", http.StatusNotFound))
	case errors.Is(err, services.ErrAddressUnavailable):
		serviceUnavailable(ctx, w, "address_unavailable", "address service unavailable")
	default:
		httpx.WriteError(ctx, w, httpx.NewError("address_error", "failed to process address request", http.StatusInternalServerError))
	}
}
