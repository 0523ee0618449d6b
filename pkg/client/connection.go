package client

import "time"

// ApiConnectionDetails holds where the gateway is and who is calling it.
type ApiConnectionDetails struct {
	GatewayUrl string
	Token      string
	Timeout    time.Duration
	RetryMax   int
}

type ConnectionDetails func() *ApiConnectionDetails
