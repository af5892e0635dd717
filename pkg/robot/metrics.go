package robot

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reachy",
			Subsystem: "bus",
			Name:      "frames_sent_total",
			Help:      "Instruction frames written to the bus.",
		},
		[]string{"instruction"},
	)
	repliesMissing = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reachy",
			Subsystem: "bus",
			Name:      "replies_missing_total",
			Help:      "Expected status replies that never arrived.",
		},
		[]string{"motor"},
	)
	motorErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reachy",
			Subsystem: "bus",
			Name:      "motor_errors_total",
			Help:      "Status replies carrying a nonzero error byte.",
		},
		[]string{"motor"},
	)
	reboots = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reachy",
			Subsystem: "bus",
			Name:      "reboots_total",
			Help:      "Reboot instructions sent.",
		},
		[]string{"motor"},
	)
	fkIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "reachy",
			Subsystem: "kinematics",
			Name:      "fk_iterations",
			Help:      "Forward kinematics iterations per solve.",
			Buckets:   prometheus.LinearBuckets(0, 2, 10),
		},
	)
	fkUnconverged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reachy",
			Subsystem: "kinematics",
			Name:      "fk_unconverged_total",
			Help:      "Forward kinematics solves that did not converge.",
		},
	)
	ikUnreachable = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "reachy",
			Subsystem: "kinematics",
			Name:      "ik_unreachable_total",
			Help:      "Requested head poses outside the workspace.",
		},
	)
)

// RegisterMetrics registers the robot metrics with the default registry.
// It is safe to call more than once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesSent, repliesMissing, motorErrors, reboots,
			fkIterations, fkUnconverged, ikUnreachable)
	})
}

func recordFrame(instruction string) {
	framesSent.WithLabelValues(instruction).Inc()
}

func recordMissing(motor MotorName) {
	repliesMissing.WithLabelValues(string(motor)).Inc()
}

func recordMotorError(motor MotorName) {
	motorErrors.WithLabelValues(string(motor)).Inc()
}

func recordReboot(motor MotorName) {
	reboots.WithLabelValues(string(motor)).Inc()
}

func recordFK(iterations int, converged bool) {
	fkIterations.Observe(float64(iterations))
	if !converged {
		fkUnconverged.Inc()
	}
}
