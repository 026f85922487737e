package model

// Manifest describes the work a job asks oracles to perform. The JSON body
// is stored in the manifest bucket; its keccak256 digest is recorded on the
// job and passed to the escrow contract.
type Manifest struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	JobType       string `json:"job_type"`
	FundAmount    string `json:"fund_amount"`
	RequestConfig any    `json:"request_config,omitempty"`
}
