package password

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// legacyVerifyTotal counts successful logins that matched a legacy
// plaintext credential. The number should only ever trend toward zero;
// a non-zero rate months after the bcrypt migration means rows were
// missed.
var legacyVerifyTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "readmemo",
	Subsystem: "password",
	Name:      "legacy_verify_total",
	Help:      "Successful verifications against legacy plaintext credentials.",
})
