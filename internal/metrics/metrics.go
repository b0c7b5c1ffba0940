package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	ordersPlaced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_orders_placed_total",
			Help: "Orders committed by checkout",
		},
		[]string{"payment_method"},
	)

	checkoutFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_checkout_failures_total",
			Help: "Checkout attempts that did not produce an order, or whose payment intent failed",
		},
		[]string{"reason"},
	)

	paymentWebhooks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_payment_webhooks_total",
			Help: "Payment webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	eventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_events_consumed_total",
			Help: "Queue messages handled by the event worker",
		},
		[]string{"type", "status"},
	)
)

func OrderPlaced(method string) { ordersPlaced.WithLabelValues(method).Inc() }

func CheckoutFailed(reason string) { checkoutFailures.WithLabelValues(reason).Inc() }

func PaymentWebhook(outcome string) { paymentWebhooks.WithLabelValues(outcome).Inc() }

func EventConsumed(eventType string, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	eventsConsumed.WithLabelValues(eventType, status).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
