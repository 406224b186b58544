package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    ClusterMembers = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_usage",
        Name:      "members_total",
        Help:      "Current number of known cluster members",
    })

    LeaderChanges = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_usage",
        Name:      "leader_changes_total",
        Help:      "Total number of observed consensus leader changes",
    })

    MembershipEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_usage",
        Name:      "membership_events_total",
        Help:      "Gossip membership events handled, by type",
    }, []string{"type"})

    Role = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "go_usage",
        Name:      "role",
        Help:      "1 for the role this node currently holds, else 0",
    }, []string{"role"})

    RoleTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_usage",
        Name:      "role_transitions_total",
        Help:      "Total number of role transitions, by role entered",
    }, []string{"role"})

    Imports = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_usage",
        Name:      "imports_total",
        Help:      "Local usage imports by result (accepted|rejected)",
    }, []string{"result"})

    Reports = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_usage",
        Name:      "reports_total",
        Help:      "Inbound usage reports by result (applied|ignored|rejected)",
    }, []string{"result"})

    ReportsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "go_usage",
        Name:      "reports_sent_total",
        Help:      "Outbound usage reports by result (sent|failed|unresolved|superseded)",
    }, []string{"result"})

    Retracted = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_usage",
        Name:      "retracted_usages_total",
        Help:      "Usage names retracted because their source disconnected",
    })

    LocalUsages = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_usage",
        Name:      "local_usages",
        Help:      "Number of usages in the local view",
    })

    PoolSources = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_usage",
        Name:      "pool_sources",
        Help:      "Number of sources held in the cluster pool",
    })

    Streams = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_usage",
        Subsystem: "grpc",
        Name:      "streams_active",
        Help:      "Number of open inbound usage streams",
    })

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_usage",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_usage",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "go_usage",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "go_usage",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(ClusterMembers)
        prometheus.MustRegister(LeaderChanges)
        prometheus.MustRegister(MembershipEvents)
        prometheus.MustRegister(Role)
        prometheus.MustRegister(RoleTransitions)
        prometheus.MustRegister(Imports)
        prometheus.MustRegister(Reports)
        prometheus.MustRegister(ReportsSent)
        prometheus.MustRegister(Retracted)
        prometheus.MustRegister(LocalUsages)
        prometheus.MustRegister(PoolSources)
        prometheus.MustRegister(Streams)
        prometheus.MustRegister(GRPCConnDials)
        prometheus.MustRegister(GRPCConnReuse)
        prometheus.MustRegister(GRPCConnEvictions)
        prometheus.MustRegister(GRPCConnActive)
    })
}

// SetRole marks role as the current one in the Role gauge.
func SetRole(role string, all []string) {
    for _, r := range all {
        v := 0.0
        if r == role { v = 1 }
        Role.WithLabelValues(r).Set(v)
    }
}
