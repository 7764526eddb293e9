package internal

import "expvar"

var (
	requestsTotal  = expvar.NewMap("notifier_requests_total")
	rejectedTotal  = expvar.NewMap("notifier_rejected_total")
	queuedTotal    = expvar.NewInt("notifier_tenants_queued_total")
	filteredTotal  = expvar.NewInt("notifier_filtered_total")
	deliveredTotal = expvar.NewInt("notifier_delivered_total")
	deliveryErrors = expvar.NewInt("notifier_delivery_errors_total")
	formatErrors   = expvar.NewInt("notifier_format_errors_total")
	signatureSkips = expvar.NewInt("notifier_signature_skips_total")
)

func IncRequest(event string) {
	requestsTotal.Add(event, 1)
}

func IncRejected(reason string) {
	rejectedTotal.Add(reason, 1)
}

func AddQueued(n int64) {
	queuedTotal.Add(n)
}

func IncFiltered() {
	filteredTotal.Add(1)
}

func IncDelivered() {
	deliveredTotal.Add(1)
}

func IncDeliveryError() {
	deliveryErrors.Add(1)
}

func IncFormatError() {
	formatErrors.Add(1)
}

func IncSignatureSkip() {
	signatureSkips.Add(1)
}
