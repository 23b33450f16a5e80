package models

// NSUser is a PBX user as returned by the remote API.
type NSUser struct {
	User          string `json:"user"`
	Domain        string `json:"domain"`
	FirstName     string `json:"name-first-name,omitempty"`
	LastName      string `json:"name-last-name,omitempty"`
	Email         string `json:"email-address,omitempty"`
	Department    string `json:"department,omitempty"`
	Site          string `json:"site,omitempty"`
	StatusMessage string `json:"status-message,omitempty"`
}

// NSSubscription is a PBX-side subscription as returned by the remote API.
// The PBX is authoritative for these; the registry only mirrors them.
type NSSubscription struct {
	ID      string `json:"id,omitempty"`
	User    string `json:"user"`
	Domain  string `json:"domain"`
	Model   string `json:"model"`
	PostURL string `json:"post-url"`

	Description string `json:"description,omitempty"`
	Expires     *int64 `json:"expires,omitempty"`
}
