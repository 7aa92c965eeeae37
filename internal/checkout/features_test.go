package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"pos_engine/internal/inventory"
	"pos_engine/internal/pricing"
	"pos_engine/internal/sales"

	"github.com/cucumber/godog"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type checkoutTestContext struct {
	store  *inventory.LocalStorage
	rates  pricing.RateConfig
	svc    *Service
	handle string
	sale   *sales.Sale
	void   VoidResult
	err    error
}

func (c *checkoutTestContext) reset() {
	c.store = inventory.NewLocalStorage()
	c.rates = pricing.DefaultRates()
	c.svc = nil
	c.handle = ""
	c.sale = nil
	c.void = VoidResult{}
	c.err = nil
}

func (c *checkoutTestContext) aProductNamedPricedWithInStock(barcode, name, price string, qty int) error {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return err
	}
	return c.store.Upsert(context.Background(), inventory.Product{Barcode: barcode, Name: name, Price: p, Quantity: qty})
}

func (c *checkoutTestContext) theTaxRateIsPercent(rate string) error {
	r, err := decimal.NewFromString(rate)
	if err != nil {
		return err
	}
	c.rates.TaxRate = r
	return nil
}

func (c *checkoutTestContext) aNewCheckout() error {
	svc, err := NewService(c.store, sales.NewService(sales.NewLocalStorage(), zap.NewNop()), c.rates, zap.NewNop(),
		WithRetryPolicy(fastRetries()))
	if err != nil {
		return err
	}
	c.svc = svc
	c.handle = svc.StartCheckout(context.Background())
	return nil
}

func (c *checkoutTestContext) iAddOf(qty int, barcode string) error {
	_, c.err = c.svc.AddLine(context.Background(), c.handle, barcode, qty, pricing.NoDiscount())
	return nil
}

func (c *checkoutTestContext) iAddOfWithAPercentDiscount(qty int, barcode, pct string) error {
	p, err := decimal.NewFromString(pct)
	if err != nil {
		return err
	}
	_, c.err = c.svc.AddLine(context.Background(), c.handle, barcode, qty, pricing.Percent(p))
	return nil
}

func (c *checkoutTestContext) iSetACartDiscountOf(amount string) error {
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return err
	}
	c.err = c.svc.SetCartDiscount(context.Background(), c.handle, pricing.Amount(a))
	return nil
}

func (c *checkoutTestContext) iFinalizePaying(method string) error {
	c.sale, c.err = c.svc.Finalize(context.Background(), c.handle, method)
	return nil
}

func (c *checkoutTestContext) iVoidTheSale() error {
	if c.sale == nil {
		return errors.New("no sale to void")
	}
	c.void, c.err = c.svc.Void(context.Background(), c.sale.ID)
	return c.err
}

func (c *checkoutTestContext) saleAmount(field, want string) error {
	if c.err != nil {
		return fmt.Errorf("expected a sale but got error: %v", c.err)
	}
	var got decimal.Decimal
	switch field {
	case "subtotal":
		got = c.sale.Subtotal
	case "tax":
		got = c.sale.Tax
	case "grand total":
		got = c.sale.GrandTotal
	default:
		return fmt.Errorf("unknown sale field %q", field)
	}
	if !decimal.RequireFromString(want).Equal(got) {
		return fmt.Errorf("expected %s %s, got %s", field, want, got)
	}
	return nil
}

func (c *checkoutTestContext) theStockOfIs(barcode string, want int) error {
	got, err := c.store.GetQuantity(context.Background(), barcode)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected stock %d for %s, got %d", want, barcode, got)
	}
	return nil
}

func (c *checkoutTestContext) theCheckoutFailsWithInsufficientStockFor(barcode string) error {
	var insufficient *inventory.InsufficientStockError
	if !errors.As(c.err, &insufficient) {
		return fmt.Errorf("expected insufficient stock, got %v", c.err)
	}
	if insufficient.Barcode != barcode {
		return fmt.Errorf("expected barcode %s, got %s", barcode, insufficient.Barcode)
	}
	return nil
}

func (c *checkoutTestContext) theCartIs(state string) error {
	view, err := c.svc.Cart(context.Background(), c.handle)
	if err != nil {
		return err
	}
	if string(view.State) != state {
		return fmt.Errorf("expected cart %s, got %s", state, view.State)
	}
	return nil
}

func (c *checkoutTestContext) theVoidReportsAlreadyVoided() error {
	if !c.void.AlreadyVoided {
		return errors.New("expected the second void to be a no-op")
	}
	return nil
}

func (c *checkoutTestContext) theErrorMessageContains(substring string) error {
	if c.err == nil {
		return errors.New("expected error but the step succeeded")
	}
	if !strings.Contains(strings.ToLower(c.err.Error()), strings.ToLower(substring)) {
		return fmt.Errorf("expected error message to contain %q, got %q", substring, c.err.Error())
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &checkoutTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^a product "([^"]*)" named "([^"]*)" priced (\d+(?:\.\d+)?) with (\d+) in stock$`, tc.aProductNamedPricedWithInStock)
	ctx.Step(`^the tax rate is (\d+(?:\.\d+)?) percent$`, tc.theTaxRateIsPercent)
	ctx.Step(`^a new checkout$`, tc.aNewCheckout)

	// When steps
	ctx.Step(`^I add (\d+) of "([^"]*)"$`, tc.iAddOf)
	ctx.Step(`^I add (\d+) of "([^"]*)" with a (\d+(?:\.\d+)?) percent discount$`, tc.iAddOfWithAPercentDiscount)
	ctx.Step(`^I set a cart discount of (\d+(?:\.\d+)?)$`, tc.iSetACartDiscountOf)
	ctx.Step(`^I finalize paying "([^"]*)"$`, tc.iFinalizePaying)
	ctx.Step(`^I void the sale$`, tc.iVoidTheSale)

	// Then steps
	ctx.Step(`^the sale (subtotal|tax|grand total) is (\d+(?:\.\d+)?)$`, tc.saleAmount)
	ctx.Step(`^the stock of "([^"]*)" is (\d+)$`, tc.theStockOfIs)
	ctx.Step(`^the checkout fails with insufficient stock for "([^"]*)"$`, tc.theCheckoutFailsWithInsufficientStockFor)
	ctx.Step(`^the cart is "([^"]*)"$`, tc.theCartIs)
	ctx.Step(`^the void reports already voided$`, tc.theVoidReportsAlreadyVoided)
	ctx.Step(`^the error message contains "([^"]*)"$`, tc.theErrorMessageContains)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/checkout.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
