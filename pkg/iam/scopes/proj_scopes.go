package scopes

// ============================================================================
// DOMAIN-SPECIFIC SCOPES - AI Memory Platform
// ============================================================================

const (
	MemoryRead    = "memory:read"
	MemoryWrite   = "memory:write"
	GraphRead     = "graph:read"
	GraphWrite    = "graph:write"
	SearchRead    = "search:read"
	APIKeysManage = "apikeys:manage"
	VaultManage   = "vault:manage"
	Admin         = "admin"
)

// DomainScopeCategories organizes domain-specific scopes
var DomainScopeCategories = map[string][]string{
	"memory":  {MemoryRead, MemoryWrite},
	"graph":   {GraphRead, GraphWrite},
	"search":  {SearchRead},
	"apikeys": {APIKeysManage},
	"vault":   {VaultManage},
	"admin":   {Admin},
}

// DomainScopeDescriptions provides descriptions for domain scopes
var DomainScopeDescriptions = map[string]string{
	MemoryRead:    "Read own memories",
	MemoryWrite:   "Create, update, and delete own memories",
	GraphRead:     "Traverse and read the knowledge graph",
	GraphWrite:    "Mutate the knowledge graph",
	SearchRead:    "Run hybrid retrieval queries",
	APIKeysManage: "Create and revoke own API keys",
	VaultManage:   "Manage external provider credentials",
	Admin:         "Full administrative access",
}

// DomainScopeGroups defines domain-specific role groupings
var DomainScopeGroups = map[string][]string{
	"read_only": {MemoryRead, GraphRead, SearchRead},
	"user":      {MemoryRead, MemoryWrite, GraphRead, GraphWrite, SearchRead, APIKeysManage},
	"admin":     {Admin},
}
