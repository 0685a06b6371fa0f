package domain

type Portfolio struct {
	ID          string `json:"id"`
	Status      string `json:"status" enum:"active,paused,archived"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	PortfolioID string `json:"portfolio_id,omitempty"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id,omitempty"`
	ActorID     string `json:"actor_id"`
	Payload     string `json:"payload_json"`
}

// ScenarioRecord is a stored projection result.
type ScenarioRecord struct {
	ID          string           `json:"id"`
	PortfolioID string           `json:"portfolio_id"`
	Kind        string           `json:"kind" enum:"full,change,what_if"`
	Changes     []ProposedChange `json:"changes,omitempty"`
	Scenario    Scenario         `json:"scenario"`
	ActorID     string           `json:"actor_id"`
	CreatedAt   string           `json:"created_at" format:"date-time"`
}

const (
	ScenarioKindFull   = "full"
	ScenarioKindChange = "change"
	ScenarioKindWhatIf = "what_if"
)
