package groupchat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Coordinator's prometheus counters.
type Metrics struct {
	ConsensusAppends *prometheus.CounterVec
	MembersJoined    prometheus.Counter
	MessagesSent     prometheus.Counter
}

// NewMetrics registers the Coordinator's counters against reg. Pass
// prometheus.DefaultRegisterer for the process-global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConsensusAppends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "groupchat_consensus_appends_total",
			Help: "Consensus log rows appended, by ConsensusType ordinal.",
		}, []string{"ctype"}),
		MembersJoined: factory.NewCounter(prometheus.CounterOpts{
			Name: "groupchat_members_joined_total",
			Help: "Members admitted across all groups.",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "groupchat_messages_sent_total",
			Help: "MessageCreate events applied across all groups.",
		}),
	}
}

// Observe records one appended consensus row against ctype, and bumps the
// MembersJoined/MessagesSent counters for the types that carry a natural
// per-entity meaning.
func (m *Metrics) Observe(ctype ConsensusType) {
	if m == nil {
		return
	}
	m.ConsensusAppends.WithLabelValues(ctype.label()).Inc()
	switch ctype {
	case ConsensusMemberJoin:
		m.MembersJoined.Inc()
	case ConsensusMessageCreate:
		m.MessagesSent.Inc()
	}
}

func (t ConsensusType) label() string {
	switch t {
	case ConsensusGroupInfo:
		return "group_info"
	case ConsensusGroupTransfer:
		return "group_transfer"
	case ConsensusGroupManagerAdd:
		return "group_manager_add"
	case ConsensusGroupManagerDel:
		return "group_manager_del"
	case ConsensusGroupClose:
		return "group_close"
	case ConsensusMemberInfo:
		return "member_info"
	case ConsensusMemberJoin:
		return "member_join"
	case ConsensusMemberLeave:
		return "member_leave"
	case ConsensusMessageCreate:
		return "message_create"
	default:
		return "unknown"
	}
}
