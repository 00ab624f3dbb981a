//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
)

func TestCart_Lifecycle(t *testing.T) {
	customer := newCustomer()

	o := addToCart(t, customer, 1, 2)
	if o.Status != "CART" || o.Total != "13.00" {
		t.Fatalf("after add: status %q total %q", o.Status, o.Total)
	}
	if o.CustomerID != customer {
		t.Fatalf("customer: got %d, want %d", o.CustomerID, customer)
	}

	again := addToCart(t, customer, 4, 1)
	if again.ID != o.ID {
		t.Fatalf("expected the same cart, got %d and %d", o.ID, again.ID)
	}
	if again.Total != "18.50" || len(again.Lines) != 2 {
		t.Fatalf("after second add: total %q lines %d", again.Total, len(again.Lines))
	}

	cart := expectOrder(t, doGet(t, fmt.Sprintf("/api/customers/%d/cart", customer)), http.StatusOK)
	if cart.ID != o.ID {
		t.Fatalf("get cart: got %d, want %d", cart.ID, o.ID)
	}

	updated := expectOrder(t, do(t, http.MethodPut, fmt.Sprintf("/api/orders/%d/lines/1", o.ID),
		lineRequest{Quantity: 1}), http.StatusOK)
	if updated.Total != "12.00" {
		t.Fatalf("after update: total %q, want 12.00", updated.Total)
	}

	removed := expectOrder(t, do(t, http.MethodDelete, fmt.Sprintf("/api/orders/%d/lines/4", o.ID), nil), http.StatusOK)
	if removed.Total != "6.50" || len(removed.Lines) != 1 {
		t.Fatalf("after remove: total %q lines %d", removed.Total, len(removed.Lines))
	}

	before := getProduct(t, 1).Stock
	completed := expectOrder(t, doPost(t, fmt.Sprintf("/api/orders/%d/complete", o.ID), nil), http.StatusOK)
	if completed.Status != "COMPLETED" {
		t.Fatalf("status: got %q, want COMPLETED", completed.Status)
	}
	if after := getProduct(t, 1).Stock; after != before-1 {
		t.Fatalf("stock: got %d, want %d", after, before-1)
	}

	expectError(t, do(t, http.MethodPut, fmt.Sprintf("/api/orders/%d/lines/1", o.ID),
		lineRequest{Quantity: 3}), http.StatusConflict)
	expectError(t, doPost(t, fmt.Sprintf("/api/orders/%d/complete", o.ID), nil), http.StatusConflict)

	next := addToCart(t, customer, 1, 1)
	if next.ID == o.ID {
		t.Fatal("a completed order must not be reused as a cart")
	}
}

func TestCart_CreateTwice(t *testing.T) {
	customer := newCustomer()
	path := fmt.Sprintf("/api/customers/%d/cart", customer)

	o := expectOrder(t, doPost(t, path, nil), http.StatusCreated)
	if len(o.Lines) != 0 || o.Total != "0.00" {
		t.Fatalf("new cart: lines %d total %q", len(o.Lines), o.Total)
	}
	expectError(t, doPost(t, path, nil), http.StatusConflict)
}

func TestCart_NotFound(t *testing.T) {
	expectError(t, doGet(t, fmt.Sprintf("/api/customers/%d/cart", newCustomer())), http.StatusNotFound)
	expectError(t, doGet(t, "/api/orders/999999999"), http.StatusNotFound)

	o := addToCart(t, newCustomer(), 1, 1)
	expectError(t, do(t, http.MethodDelete, fmt.Sprintf("/api/orders/%d/lines/2", o.ID), nil), http.StatusNotFound)
	expectError(t, doPost(t, fmt.Sprintf("/api/orders/%d/lines", o.ID),
		lineRequest{ProductID: 999, Quantity: 1}), http.StatusNotFound)
}

func TestCart_InsufficientStock(t *testing.T) {
	stock := getProduct(t, 6).Stock
	o := addToCart(t, newCustomer(), 6, 1)

	e := expectError(t, doPost(t, fmt.Sprintf("/api/orders/%d/lines", o.ID),
		lineRequest{ProductID: 6, Quantity: stock + 1}), http.StatusConflict)
	if e.Message == "" {
		t.Error("expected a message naming the product")
	}

	unchanged := expectOrder(t, doGet(t, fmt.Sprintf("/api/orders/%d", o.ID)), http.StatusOK)
	if unchanged.Total != "5.00" {
		t.Fatalf("failed mutation changed total to %q", unchanged.Total)
	}
}

func TestCart_InvalidQuantity(t *testing.T) {
	o := addToCart(t, newCustomer(), 1, 1)
	expectError(t, doPost(t, fmt.Sprintf("/api/orders/%d/lines", o.ID),
		lineRequest{ProductID: 2, Quantity: 0}), http.StatusUnprocessableEntity)
}

func TestCart_RemoveLastLineDiscardsCart(t *testing.T) {
	customer := newCustomer()
	o := addToCart(t, customer, 3, 1)

	resp := do(t, http.MethodDelete, fmt.Sprintf("/api/orders/%d/lines/3", o.ID), nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	expectError(t, doGet(t, fmt.Sprintf("/api/customers/%d/cart", customer)), http.StatusNotFound)
}

func TestCart_ConcurrentAddsShareOneCart(t *testing.T) {
	customer := newCustomer()

	body := `{"productId":5,"quantity":1}`
	url := fmt.Sprintf("%s/api/customers/%d/cart/items", baseURL, customer)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ids      = make(map[int64]struct{})
		failures []string
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := httpClient.Post(url, "application/json", strings.NewReader(body))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err.Error())
				return
			}
			defer resp.Body.Close()
			var o orderResponse
			if resp.StatusCode != http.StatusOK || json.NewDecoder(resp.Body).Decode(&o) != nil {
				failures = append(failures, fmt.Sprintf("status %d", resp.StatusCode))
				return
			}
			ids[o.ID] = struct{}{}
		}()
	}
	wg.Wait()

	if len(failures) > 0 {
		t.Fatalf("concurrent adds failed: %v", failures)
	}
	if len(ids) != 1 {
		t.Fatalf("expected one cart, got %d", len(ids))
	}
	cart := expectOrder(t, doGet(t, fmt.Sprintf("/api/customers/%d/cart", customer)), http.StatusOK)
	// Adding a product already in the cart sets its quantity.
	if len(cart.Lines) != 1 || cart.Lines[0].Quantity != 1 || cart.Total != "4.00" {
		t.Fatalf("cart: lines %+v total %q", cart.Lines, cart.Total)
	}
}

func TestCart_ApplyCoupon(t *testing.T) {
	customer := newCustomer()
	addToCart(t, customer, 42, 2)
	o := addToCart(t, customer, 1, 1)
	if o.Total != "26.50" {
		t.Fatalf("before coupon: total %q", o.Total)
	}

	// HAPPYHRS takes 20% off PASTRY: 2 × 8.00 + 6.50.
	discounted := expectOrder(t, doPost(t, fmt.Sprintf("/api/orders/%d/coupon", o.ID),
		couponRequest{Token: "HAPPYHRS"}), http.StatusOK)
	if discounted.Total != "22.50" {
		t.Fatalf("after coupon: total %q, want 22.50", discounted.Total)
	}

	// Unknown coupons leave prices unchanged.
	same := expectOrder(t, doPost(t, fmt.Sprintf("/api/orders/%d/coupon", o.ID),
		couponRequest{Token: "NOSUCHCOUPON"}), http.StatusOK)
	if same.Total != discounted.Total {
		t.Fatalf("unknown coupon changed total to %q", same.Total)
	}
}
