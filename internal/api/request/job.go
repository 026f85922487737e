package request

// CreateJobManifest is the inline manifest body of a job creation request.
type CreateJobManifest struct {
	Title         string `json:"title" validate:"required,max=255"`
	Description   string `json:"description" validate:"omitempty,max=4096"`
	JobType       string `json:"job_type" validate:"required,max=64"`
	RequestConfig any    `json:"request_config"`
}

type CreateJob struct {
	ChainID          int64             `json:"chain_id" validate:"required,min=1"`
	RequesterAddress string            `json:"requester_address" validate:"required,eth_addr"`
	FundAmount       string            `json:"fund_amount" validate:"required,max=78"`
	ExchangeOracle   string            `json:"exchange_oracle" validate:"required,eth_addr"`
	RecordingOracle  string            `json:"recording_oracle" validate:"required,eth_addr"`
	ReputationOracle string            `json:"reputation_oracle" validate:"required,eth_addr"`
	Manifest         CreateJobManifest `json:"manifest" validate:"required"`
}
