package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every counter/histogram/gauge this repository registers,
// generalized from a reconciler's initMetrics block
// (reconcile/API-call/status-update vectors) to this service's own
// pipeline/handoff/Jira-sync surface.
type Metrics struct {
	PipelineTransitionsTotal *prometheus.CounterVec
	PipelineTransitionDur    *prometheus.HistogramVec
	PipelineActiveTotal      *prometheus.GaugeVec

	HandoffsTotal  *prometheus.CounterVec
	EscalationsTotal *prometheus.CounterVec

	JiraAPICallsTotal  *prometheus.CounterVec
	JiraAPICallDur     *prometheus.HistogramVec
	JiraSyncItemsTotal *prometheus.GaugeVec
	JiraConflictsTotal *prometheus.CounterVec

	CLISessionsActive  *prometheus.GaugeVec
	CLISessionsTotal   *prometheus.CounterVec
}

// NewMetrics constructs and registers every metric against reg. Passing a
// fresh *prometheus.Registry in tests avoids the global
// prometheus.DefaultRegisterer panicking on repeat registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PipelineTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_pipeline_transitions_total",
			Help: "Total number of pipeline state transitions.",
		}, []string{"from", "to", "result"}),
		PipelineTransitionDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_pipeline_transition_duration_seconds",
			Help:    "Duration of pipeline state transitions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"from", "to"}),
		PipelineActiveTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_pipeline_active",
			Help: "Number of pipelines currently in each state.",
		}, []string{"state"}),

		HandoffsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_handoffs_total",
			Help: "Total number of agent handoffs executed.",
		}, []string{"from_agent", "to_agent", "result"}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_escalations_total",
			Help: "Total number of story escalations raised.",
		}, []string{"reason"}),

		JiraAPICallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jira_api_calls_total",
			Help: "Total number of Jira REST v3 calls.",
		}, []string{"method", "status"}),
		JiraAPICallDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jira_api_call_duration_seconds",
			Help:    "Duration of Jira REST v3 calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		JiraSyncItemsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "jira_sync_items",
			Help: "Number of sync items by status.",
		}, []string{"syncStatus"}),
		JiraConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jira_sync_conflicts_total",
			Help: "Total number of sync conflicts detected.",
		}, []string{"direction"}),

		CLISessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cli_sessions_active",
			Help: "Number of currently running CLI agent sessions.",
		}, []string{"agent"}),
		CLISessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cli_sessions_total",
			Help: "Total number of CLI agent sessions started.",
		}, []string{"agent", "result"}),
	}

	reg.MustRegister(
		m.PipelineTransitionsTotal, m.PipelineTransitionDur, m.PipelineActiveTotal,
		m.HandoffsTotal, m.EscalationsTotal,
		m.JiraAPICallsTotal, m.JiraAPICallDur, m.JiraSyncItemsTotal, m.JiraConflictsTotal,
		m.CLISessionsActive, m.CLISessionsTotal,
	)
	return m
}
