package rpc

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// dBFT RPC Paths
const (
	VersionRoutePath       = "/v1/"
	TxRoutePath            = "/v1/tx"
	MembersRoutePath       = "/v1/query/members"
	HeightRoutePath        = "/v1/query/height"
	RoundRoutePath         = "/v1/query/round"
	StatisticsRoutePath    = "/v1/query/statistics"
	ValidatorSetRoutePath  = "/v1/query/validator-set"
	BlockByHeightRoutePath = "/v1/query/block-by-height"
	BlockByHashRoutePath   = "/v1/query/block-by-hash"
	PendingRoutePath       = "/v1/query/pending"
	// admin
	PeerInfoRoutePath = "/v1/admin/peer-info"
	ConfigRoutePath   = "/v1/admin/config"
)

const (
	VersionRouteName       = "version"
	TxRouteName            = "tx"
	MembersRouteName       = "members"
	HeightRouteName        = "height"
	RoundRouteName         = "round"
	StatisticsRouteName    = "statistics"
	ValidatorSetRouteName  = "validator-set"
	BlockByHeightRouteName = "block-by-height"
	BlockByHashRouteName   = "block-by-hash"
	PendingRouteName       = "pending"
	// admin
	PeerInfoRouteName = "peer-info"
	ConfigRouteName   = "config"
)

// routes contains the method and path for a dbft command
type routes map[string]struct {
	Method string
	Path   string
}

// routePaths is a mapping from route names to their corresponding HTTP methods and paths.
var routePaths = routes{
	VersionRouteName:       {Method: http.MethodGet, Path: VersionRoutePath},
	TxRouteName:            {Method: http.MethodPost, Path: TxRoutePath},
	MembersRouteName:       {Method: http.MethodGet, Path: MembersRoutePath},
	HeightRouteName:        {Method: http.MethodPost, Path: HeightRoutePath},
	RoundRouteName:         {Method: http.MethodPost, Path: RoundRoutePath},
	StatisticsRouteName:    {Method: http.MethodPost, Path: StatisticsRoutePath},
	ValidatorSetRouteName:  {Method: http.MethodGet, Path: ValidatorSetRoutePath},
	BlockByHeightRouteName: {Method: http.MethodPost, Path: BlockByHeightRoutePath},
	BlockByHashRouteName:   {Method: http.MethodPost, Path: BlockByHashRoutePath},
	PendingRouteName:       {Method: http.MethodPost, Path: PendingRoutePath},
	PeerInfoRouteName:      {Method: http.MethodGet, Path: PeerInfoRoutePath},
	ConfigRouteName:        {Method: http.MethodGet, Path: ConfigRoutePath},
}

// httpRouteHandlers is a custom type that maps strings to httprouter handle functions
type httpRouteHandlers map[string]httprouter.Handle

// createRouter initializes and returns a new HTTP router with predefined route handlers.
func createRouter(s *Server) *httprouter.Router {
	var r = httpRouteHandlers{
		VersionRouteName:       s.Version,
		TxRouteName:            s.Transaction,
		MembersRouteName:       s.Members,
		HeightRouteName:        s.Height,
		RoundRouteName:         s.Round,
		StatisticsRouteName:    s.Statistics,
		ValidatorSetRouteName:  s.ValidatorSet,
		BlockByHeightRouteName: s.BlockByHeight,
		BlockByHashRouteName:   s.BlockByHash,
		PendingRouteName:       s.Pending,
		PeerInfoRouteName:      s.PeerInfo,
		ConfigRouteName:        s.Config,
	}

	// Initialize a new router using the httprouter package.
	router := httprouter.New()

	// Iterate over the routePaths map and register each route with its handler
	for name, path := range routePaths {
		router.Handle(path.Method, path.Path, r[name])
	}

	return router
}
