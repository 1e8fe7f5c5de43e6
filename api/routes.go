package api

// Route constants for the API endpoints.

const (
	// Health endpoint
	PingEndpoint = "/ping" // GET: health check

	// Key endpoints
	PublicKeyEndpoint         = "/publickey"                                     // GET: tallier public key (SPKI base64)
	StationURLParam           = "stationId"                                      // URL parameter for station ID
	StationKeyEndpoint        = "/stations/{" + StationURLParam + "}/key"        // POST: register wrapped AES key
	StationSigningKeyEndpoint = "/stations/{" + StationURLParam + "}/signingkey" // POST: enrol RSA signing key

	// Ballot endpoints
	BallotsEndpoint            = "/ballots"                                       // POST: submit a sealed ballot
	BallotURLParam             = "ballotId"                                       // URL parameter for ballot ID
	BallotConfirmationEndpoint = "/ballots/confirmation/{" + BallotURLParam + "}" // GET: confirmation channel

	// Results endpoint
	ResultsEndpoint = "/results" // GET: aggregated tallies
)
