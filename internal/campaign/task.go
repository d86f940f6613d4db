package campaign

// Strategy selects how messages are assigned to accounts.
type Strategy string

const (
	// StrategySingle sends every message through one designated account.
	StrategySingle Strategy = "single"
	// StrategyRotational spreads messages across all ready accounts.
	StrategyRotational Strategy = "rotational"
)

// DelaySettings controls the randomized pause between messages. When both
// bounds are set they win over the preset.
type DelaySettings struct {
	Preset          string `json:"preset"`
	MinDelaySeconds *int   `json:"min_delay_seconds,omitempty"`
	MaxDelaySeconds *int   `json:"max_delay_seconds,omitempty"`
}

// Attachment is one media piece attached to a message.
type Attachment struct {
	Type    string `json:"type"` // image, video, document, audio
	Source  string `json:"source"`
	Caption string `json:"caption,omitempty"`
}

// Message is one recipient's send job within a campaign.
type Message struct {
	ID              string            `json:"id"`
	RecipientNumber string            `json:"recipient_number"`
	RecipientName   string            `json:"recipient_name,omitempty"`
	TemplateText    string            `json:"template_text"`
	Variables       map[string]string `json:"variables,omitempty"`
	TemplateImage   string            `json:"template_image,omitempty"` // path or URL
	Attachments     []Attachment      `json:"attachments,omitempty"`
}

// Task is a fully-resolved campaign handed to the executor. The caller builds
// it completely before the run starts; it is never mutated during a run.
type Task struct {
	CampaignID         string        `json:"campaign_id"`
	CampaignName       string        `json:"campaign_name,omitempty"`
	Messages           []Message     `json:"messages"`
	Delay              DelaySettings `json:"delay"`
	Strategy           Strategy      `json:"strategy,omitempty"`
	DesignatedServerID int           `json:"designated_server_id,omitempty"`

	// StartIndex is the first message to attempt. A run resumed from a
	// checkpoint sets it past the last index that run already reached.
	StartIndex int `json:"start_index,omitempty"`

	IsPoll       bool     `json:"is_poll,omitempty"`
	PollQuestion string   `json:"poll_question,omitempty"`
	PollOptions  []string `json:"poll_options,omitempty"`
}

// SendError describes one failed message within a run.
type SendError struct {
	MessageIndex    int    `json:"message_index"`
	RecipientNumber string `json:"recipient_number"`
	Error           string `json:"error"`
	ServerID        int    `json:"server_id"`
}

// Result is the immutable outcome of one run.
type Result struct {
	Success     bool        `json:"success"`
	SentCount   int         `json:"sent_count"`
	FailedCount int         `json:"failed_count"`
	Errors      []SendError `json:"errors"`
}
