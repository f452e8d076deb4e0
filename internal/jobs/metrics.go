package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantnexus_jobs_submitted_total",
		Help: "Optimization jobs accepted for execution",
	})

	jobsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantnexus_jobs_rejected_total",
		Help: "Job submissions rejected at validation or capacity checks",
	})

	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quantnexus_jobs_active",
		Help: "Jobs currently running",
	})

	branchesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantnexus_branches_completed_total",
		Help: "Branch backtests finished, success or failure",
	})

	branchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quantnexus_branch_errors_total",
		Help: "Branch backtests that ended with an error result",
	})
)
