package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	domain "github.com/dingdong-ecommerce/api/internal/domain"
	"github.com/dingdong-ecommerce/api/internal/repositories"
)

const (
	defaultPendingCouponTTL = 30 * time.Minute
	maxCouponCodeLength     = 20
)

var (
	// ErrCouponInvalidInput indicates the caller supplied invalid input.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponNotFound indicates no coupon has the given code or ID.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponInactive indicates the coupon is switched off.
	ErrCouponInactive = errors.New("coupon: inactive")
	// ErrCouponNotStarted indicates the validity window has not opened yet.
	ErrCouponNotStarted = errors.New("coupon: not yet valid")
	// ErrCouponExpired indicates the validity window has closed.
	ErrCouponExpired = errors.New("coupon: expired")
	// ErrCouponAlreadyUsed indicates the user already redeemed the coupon.
	ErrCouponAlreadyUsed = errors.New("coupon: already used")
	// ErrCouponLimitReached indicates the usage limit has been reached.
	ErrCouponLimitReached = errors.New("coupon: usage limit reached")
	// ErrCouponMinPurchase indicates the cart is below the coupon minimum.
	ErrCouponMinPurchase = errors.New("coupon: minimum purchase not met")
	// ErrCouponCartEmpty indicates a coupon was applied to an empty cart.
	ErrCouponCartEmpty = errors.New("coupon: cart is empty")
	// ErrCouponConflict indicates a duplicate coupon code.
	ErrCouponConflict = errors.New("coupon: conflict")
	// ErrCouponUnavailable indicates a backend failure.
	ErrCouponUnavailable = errors.New("coupon: unavailable")
)

// CouponServiceDeps bundles collaborators required to construct the coupon service.
type CouponServiceDeps struct {
	Coupons     repositories.CouponRepository
	Carts       repositories.CartRepository
	Pending     repositories.PendingCouponStore
	Pricer      *OfferResolver
	PendingTTL  time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
}

type couponService struct {
	coupons  repositories.CouponRepository
	carts    repositories.CartRepository
	pending  repositories.PendingCouponStore
	pricer   *OfferResolver
	ttl      time.Duration
	clock    func() time.Time
	newID    func() string
	logger   Logger
	validate *validator.Validate
}

// NewCouponService validates dependencies and constructs the coupon service.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("coupon service: cart repository is required")
	}
	if deps.Pending == nil {
		return nil, errors.New("coupon service: pending coupon store is required")
	}
	if deps.Pricer == nil {
		return nil, errors.New("coupon service: pricer is required")
	}
	ttl := deps.PendingTTL
	if ttl <= 0 {
		ttl = defaultPendingCouponTTL
	}
	return &couponService{
		coupons:  deps.Coupons,
		carts:    deps.Carts,
		pending:  deps.Pending,
		pricer:   deps.Pricer,
		ttl:      ttl,
		clock:    utcClock(deps.Clock),
		newID:    idGenerator(deps.IDGenerator),
		logger:   loggerOrNoop(deps.Logger),
		validate: NewValidator(),
	}, nil
}

// NewValidator returns a validator with the coupon code rule registered.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("couponcode", func(fl validator.FieldLevel) bool {
		return ValidCouponCode(fl.Field().String())
	})
	return v
}

// ValidCouponCode reports whether code is upper case alphanumeric, at most 20
// characters and contains at least one letter and one digit.
func ValidCouponCode(code string) bool {
	if code == "" || len(code) > maxCouponCodeLength {
		return false
	}
	var letter, digit bool
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z':
			letter = true
		case unicode.IsDigit(r) && r < unicode.MaxASCII:
			digit = true
		default:
			return false
		}
	}
	return letter && digit
}

func (s *couponService) ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (PendingCoupon, error) {
	userID := strings.TrimSpace(cmd.UserID)
	code := domain.NormalizeCouponCode(cmd.Code)
	if userID == "" || code == "" {
		return PendingCoupon{}, fmt.Errorf("%w: user id and code are required", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		return PendingCoupon{}, s.mapRepositoryError(err)
	}
	if err := s.checkEligible(ctx, coupon, userID); err != nil {
		return PendingCoupon{}, err
	}

	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return PendingCoupon{}, s.mapRepositoryError(err)
	}
	if len(cart.Items) == 0 {
		return PendingCoupon{}, ErrCouponCartEmpty
	}
	view, err := s.pricer.PriceCart(ctx, cart)
	if err != nil {
		return PendingCoupon{}, fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
	}
	discount, err := discountFor(coupon, view.Total, view.DeliveryCharge)
	if err != nil {
		return PendingCoupon{}, err
	}

	now := s.clock()
	pending := PendingCoupon{
		UserID:          userID,
		CartID:          cart.ID(),
		CouponID:        coupon.ID,
		Code:            coupon.Code,
		DiscountPercent: coupon.DiscountPercent,
		Discount:        discount,
		AppliedAt:       now,
		ExpiresAt:       now.Add(s.ttl),
	}
	if err := s.pending.Put(ctx, pending); err != nil {
		return PendingCoupon{}, fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
	}
	s.logger(ctx, "coupon.applied", map[string]any{"userId": userID, "code": coupon.Code, "discount": discount})
	return pending, nil
}

func (s *couponService) RemoveCoupon(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrCouponInvalidInput)
	}
	if err := s.pending.Delete(ctx, userID, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
	}
	return nil
}

func (s *couponService) ActiveCoupon(ctx context.Context, userID string) (*PendingCoupon, error) {
	userID = strings.TrimSpace(userID)
	pending, err := s.pending.Get(ctx, userID, userID)
	if repositories.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
	}
	if !pending.ExpiresAt.After(s.clock()) {
		return nil, nil
	}
	return &pending, nil
}

func (s *couponService) Revalidate(ctx context.Context, userID, couponID string, cartSubtotal, deliveryCharge int64) (Coupon, int64, error) {
	coupon, err := s.coupons.FindByID(ctx, couponID)
	if err != nil {
		return Coupon{}, 0, s.mapRepositoryError(err)
	}
	if err := s.checkEligible(ctx, coupon, userID); err != nil {
		return Coupon{}, 0, err
	}
	discount, err := discountFor(coupon, cartSubtotal, deliveryCharge)
	if err != nil {
		return Coupon{}, 0, err
	}
	return coupon, discount, nil
}

func (s *couponService) Redeem(ctx context.Context, cmd RedeemCouponCommand) error {
	usage := domain.CouponUsage{
		CouponID: cmd.CouponID,
		UserID:   cmd.UserID,
		OrderID:  cmd.OrderID,
		Status:   cmd.Status,
		UsedAt:   s.clock(),
	}
	if usage.Status == "" {
		usage.Status = domain.CouponUsageRedeemed
	}
	if err := s.coupons.InsertUsage(ctx, usage); err != nil {
		if repositories.IsConflict(err) {
			return ErrCouponAlreadyUsed
		}
		return s.mapRepositoryError(err)
	}
	if err := s.coupons.IncrementUsage(ctx, cmd.CouponID); err != nil {
		if repositories.IsConflict(err) {
			return ErrCouponLimitReached
		}
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *couponService) Finalize(ctx context.Context, order Order) error {
	usage, ok, err := s.orderUsage(ctx, order)
	if err != nil || !ok || usage.Status != domain.CouponUsageReserved {
		return err
	}
	usage.Status = domain.CouponUsageRedeemed
	usage.UsedAt = s.clock()
	if err := s.coupons.UpdateUsage(ctx, usage); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *couponService) Release(ctx context.Context, order Order) error {
	usage, ok, err := s.orderUsage(ctx, order)
	if err != nil || !ok || usage.Status != domain.CouponUsageReserved {
		return err
	}
	if err := s.coupons.DeleteUsage(ctx, usage.CouponID, usage.UserID); err != nil {
		return s.mapRepositoryError(err)
	}
	if err := s.coupons.DecrementUsage(ctx, usage.CouponID); err != nil {
		return s.mapRepositoryError(err)
	}
	s.logger(ctx, "coupon.released", map[string]any{"orderId": order.ID, "couponId": usage.CouponID})
	return nil
}

func (s *couponService) ListCoupons(ctx context.Context, filter CouponListFilter) (domain.CursorPage[Coupon], error) {
	page, err := s.coupons.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Coupon]{}, pageError(s.mapRepositoryError(err))
	}
	return page, nil
}

func (s *couponService) CreateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	cmd.Code = domain.NormalizeCouponCode(cmd.Code)
	if err := s.validateCommand(cmd); err != nil {
		return Coupon{}, err
	}
	now := s.clock()
	coupon := couponFromCommand(cmd)
	coupon.ID = s.newID()
	coupon.CreatedAt = now
	coupon.UpdatedAt = now
	if err := s.coupons.Insert(ctx, coupon); err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "coupon.created", map[string]any{"couponId": coupon.ID, "code": coupon.Code})
	return coupon, nil
}

func (s *couponService) UpdateCoupon(ctx context.Context, cmd UpsertCouponCommand) (Coupon, error) {
	cmd.ID = strings.TrimSpace(cmd.ID)
	if cmd.ID == "" {
		return Coupon{}, fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}
	cmd.Code = domain.NormalizeCouponCode(cmd.Code)
	if err := s.validateCommand(cmd); err != nil {
		return Coupon{}, err
	}
	existing, err := s.coupons.FindByID(ctx, cmd.ID)
	if err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	coupon := couponFromCommand(cmd)
	coupon.ID = existing.ID
	coupon.UsedCount = existing.UsedCount
	coupon.CreatedAt = existing.CreatedAt
	coupon.UpdatedAt = s.clock()
	if err := s.coupons.Update(ctx, coupon); err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	return coupon, nil
}

func (s *couponService) ToggleCoupon(ctx context.Context, couponID string) (Coupon, error) {
	coupon, err := s.coupons.FindByID(ctx, strings.TrimSpace(couponID))
	if err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	coupon.Active = !coupon.Active
	coupon.UpdatedAt = s.clock()
	if err := s.coupons.Update(ctx, coupon); err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	return coupon, nil
}

// checkEligible runs the coupon and per-user checks in the documented order.
func (s *couponService) checkEligible(ctx context.Context, coupon Coupon, userID string) error {
	now := s.clock()
	switch {
	case !coupon.Active:
		return ErrCouponInactive
	case coupon.Expired(now):
		return ErrCouponExpired
	case !coupon.Started(now):
		return ErrCouponNotStarted
	}
	_, err := s.coupons.FindUsage(ctx, coupon.ID, userID)
	switch {
	case err == nil:
		return ErrCouponAlreadyUsed
	case !repositories.IsNotFound(err):
		return s.mapRepositoryError(err)
	}
	if coupon.Exhausted() {
		return ErrCouponLimitReached
	}
	return nil
}

func (s *couponService) orderUsage(ctx context.Context, order Order) (domain.CouponUsage, bool, error) {
	if order.CouponID == "" {
		return domain.CouponUsage{}, false, nil
	}
	usage, err := s.coupons.FindUsage(ctx, order.CouponID, order.UserID)
	if repositories.IsNotFound(err) {
		return domain.CouponUsage{}, false, nil
	}
	if err != nil {
		return domain.CouponUsage{}, false, s.mapRepositoryError(err)
	}
	if usage.OrderID != order.ID {
		return domain.CouponUsage{}, false, nil
	}
	return usage, true, nil
}

func (s *couponService) validateCommand(cmd UpsertCouponCommand) error {
	if err := s.validate.Struct(cmd); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
			}
			return fmt.Errorf("%w: %s", ErrCouponInvalidInput, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrCouponInvalidInput, err)
	}
	return nil
}

func (s *couponService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCouponNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCouponConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrCouponUnavailable, err)
		}
	}
	return err
}

// discountFor checks the minimum purchase against the offer reduced subtotal
// and computes the discount on subtotal plus delivery.
func discountFor(coupon Coupon, subtotal, delivery int64) (int64, error) {
	if subtotal < coupon.MinPurchase {
		return 0, fmt.Errorf("%w: add %d more", ErrCouponMinPurchase, coupon.MinPurchase-subtotal)
	}
	return domain.CouponDiscount(coupon, subtotal+delivery), nil
}

func couponFromCommand(cmd UpsertCouponCommand) Coupon {
	coupon := Coupon{
		Code:            cmd.Code,
		Description:     strings.TrimSpace(cmd.Description),
		DiscountPercent: cmd.DiscountPercent,
		MinPurchase:     cmd.MinPurchase,
		MaxDiscount:     cmd.MaxDiscount,
		ValidFrom:       cmd.ValidFrom.UTC(),
		UsageLimit:      cmd.UsageLimit,
		Active:          cmd.Active,
	}
	if cmd.ValidUntil != nil {
		coupon.ValidUntil = valuePtr(cmd.ValidUntil.UTC())
	}
	return coupon
}
