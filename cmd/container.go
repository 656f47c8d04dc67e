// cmd/container.go
//
// Root composition root. Owns infrastructure (storage backend, Redis,
// vector index, embedding gateway) and composes bounded-context containers.
// This is the only place that knows about ALL modules.
package main

import (
	"context"

	"github.com/aimemory/platform/pkg/audit"
	"github.com/aimemory/platform/pkg/audit/auditinfra"
	"github.com/aimemory/platform/pkg/config"
	"github.com/aimemory/platform/pkg/embedgateway"
	"github.com/aimemory/platform/pkg/embedgateway/embedanthropic"
	"github.com/aimemory/platform/pkg/embedgateway/embedazure"
	"github.com/aimemory/platform/pkg/embedgateway/embedbedrock"
	"github.com/aimemory/platform/pkg/embedgateway/embedgemini"
	"github.com/aimemory/platform/pkg/embedgateway/embedopenai"
	"github.com/aimemory/platform/pkg/fsx"
	"github.com/aimemory/platform/pkg/fsx/fsxlocal"
	"github.com/aimemory/platform/pkg/fsx/fsxs3"
	"github.com/aimemory/platform/pkg/graph/graphapi"
	"github.com/aimemory/platform/pkg/graph/graphinfra"
	"github.com/aimemory/platform/pkg/graph/graphsrv"
	"github.com/aimemory/platform/pkg/iam/iamcontainer"
	"github.com/aimemory/platform/pkg/jobx"
	"github.com/aimemory/platform/pkg/jobx/jobxredis"
	"github.com/aimemory/platform/pkg/logx"
	"github.com/aimemory/platform/pkg/memstore/memstoreapi"
	"github.com/aimemory/platform/pkg/memstore/memstoreinfra"
	"github.com/aimemory/platform/pkg/memstore/memstoresrv"
	"github.com/aimemory/platform/pkg/notifx"
	"github.com/aimemory/platform/pkg/notifx/notifxconsole"
	"github.com/aimemory/platform/pkg/notifx/notifxses"
	"github.com/aimemory/platform/pkg/reconcile"
	"github.com/aimemory/platform/pkg/retrieval"
	"github.com/aimemory/platform/pkg/retrieval/retrievalapi"
	"github.com/aimemory/platform/pkg/storage"
	"github.com/aimemory/platform/pkg/storage/cachemem"
	"github.com/aimemory/platform/pkg/storage/cacheredis"
	"github.com/aimemory/platform/pkg/storage/storagemem"
	"github.com/aimemory/platform/pkg/storage/storagepg"
	"github.com/aimemory/platform/pkg/tooldispatch"
	"github.com/aimemory/platform/pkg/tooldispatch/tooldispatchapi"
	"github.com/aimemory/platform/pkg/vectorindex"
	"github.com/aimemory/platform/pkg/vectorindex/vectorindexmem"
	"github.com/aimemory/platform/pkg/vectorindex/vectorindexpg"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// schemaVersion is the migration target the adapters bring themselves to
// on startup.
const schemaVersion = 1

// Container holds shared infrastructure and composed module containers.
type Container struct {
	Config *config.Config

	// Infrastructure (shared across all modules)
	DB         *sqlx.DB // nil when PERSISTENT_BACKEND=embedded
	Redis      *redis.Client
	Backend    storage.Backend
	Cache      storage.Cache
	FileSystem fsx.FileSystem
	Vectors    *vectorindex.Client
	Embedder   *embedgateway.Gateway
	Jobs       *jobx.Client

	// Bounded-context containers and services
	IAM        *iamcontainer.Container
	Memories   *memstoresrv.MemoryService
	Graph      *graphsrv.GraphService
	Search     *retrieval.Engine
	Dispatcher *tooldispatch.Dispatcher
	Reconciler *reconcile.Reconciler
	Auditor    audit.Recorder

	// Handlers — route registration happens in servier.go
	MemoryHandlers *memstoreapi.MemoryHandlers
	SearchHandlers *retrievalapi.SearchHandlers
	GraphHandlers  *graphapi.GraphHandlers
	ToolHandlers   *tooldispatchapi.ToolHandlers
}

func NewContainer(cfg *config.Config) *Container {
	logx.Info("🔧 Initializing application container...")

	c := &Container{Config: cfg}

	c.initInfrastructure()
	c.initModules()

	logx.Info("✅ Application container initialized")
	return c
}

// ---------------------------------------------------------------------------
// Infrastructure — storage backend, cache, vector index, embeddings, jobs
// ---------------------------------------------------------------------------

func (c *Container) initInfrastructure() {
	logx.Info("🏗️ Initializing infrastructure...")
	ctx := context.Background()

	// 1. File storage (embedded snapshots, exports)
	c.initFileStorage()

	// 2. Persistent backend
	switch c.Config.Backends.Persistent {
	case "embedded":
		store := storagemem.New(c.FileSystem, c.Config.Backends.SnapshotPath+"/store.gob")
		store.StartSnapshotLoop(ctx)
		c.Backend = store
		logx.Info("  ✅ Embedded storage backend")
	case "networked":
		backend, err := storagepg.Connect(ctx, c.Config.Database.URL, c.Config.Database.MaxOpenConns)
		if err != nil {
			logx.Fatalf("Failed to connect to database: %v", err)
		}
		c.Backend = backend
		c.DB = backend.DB()
		logx.Info("  ✅ Networked storage backend (Postgres)")
	default:
		logx.Fatalf("Unknown PERSISTENT_BACKEND: %s (use 'embedded' or 'networked')", c.Config.Backends.Persistent)
	}

	if err := c.Backend.Migrate(ctx, schemaVersion); err != nil {
		logx.Fatalf("Migration failed: %v", err)
	}

	// 3. Cache
	switch c.Config.Backends.Cache {
	case "memory":
		c.Cache = cachemem.New()
		logx.Info("  ✅ In-process cache")
	case "networked":
		opts, err := redis.ParseURL(c.Config.Redis.URL)
		if err != nil {
			logx.Fatalf("Invalid REDIS_URL: %v", err)
		}
		c.Redis = redis.NewClient(opts)
		if _, err := c.Redis.Ping(ctx).Result(); err != nil {
			logx.Fatalf("Failed to connect to Redis: %v (Redis is required)", err)
		}
		c.Cache = cacheredis.New(c.Redis)
		logx.Info("  ✅ Redis cache connected")
	default:
		logx.Fatalf("Unknown CACHE_BACKEND: %s (use 'memory' or 'networked')", c.Config.Backends.Cache)
	}

	// 4. Vector index
	switch c.Config.Vector.Backend {
	case "embedded":
		c.Vectors = vectorindex.NewClient(vectorindexmem.New())
		logx.Info("  ✅ Embedded vector index")
	case "networked":
		url := c.Config.Vector.URL
		if url == "" {
			url = c.Config.Database.URL
		}
		provider, err := vectorindexpg.Connect(ctx, url, c.Config.Database.MaxOpenConns)
		if err != nil {
			logx.Fatalf("Failed to connect vector backend: %v", err)
		}
		c.Vectors = vectorindex.NewClient(provider)
		logx.Info("  ✅ Networked vector index (pgvector)")
	default:
		logx.Fatalf("Unknown VECTOR_BACKEND: %s (use 'embedded' or 'networked')", c.Config.Vector.Backend)
	}

	// 5. Background jobs (Redis-backed when available, otherwise skipped —
	// without a job queue no reconciler runs, and memories whose vector
	// upsert failed stay flagged needs_reindex)
	if c.Redis != nil {
		c.Jobs = jobx.NewClient(
			jobxredis.NewRedisQueue(c.Redis),
			jobx.WithQueues("default", "maintenance"),
			jobx.WithConcurrency(c.Config.Jobx.Concurrency),
		)
		logx.Info("  ✅ Job queue (Redis)")
	}

	logx.Info("✅ Infrastructure initialized")
}

func (c *Container) initFileStorage() {
	switch c.Config.Backends.SnapshotFS {
	case "s3":
		awsCfg, err := awsConfig.LoadDefaultConfig(context.TODO(), awsConfig.WithRegion(c.Config.Notifx.AWSRegion))
		if err != nil {
			logx.Fatalf("Unable to load AWS SDK config: %v", err)
		}
		c.FileSystem = fsxs3.New(s3.NewFromConfig(awsCfg), c.Config.Backends.S3Bucket)
		logx.Infof("  ✅ S3 file system configured (bucket: %s)", c.Config.Backends.S3Bucket)

	case "local":
		localFS, err := fsxlocal.NewLocalFileSystem(c.Config.Backends.SnapshotPath)
		if err != nil {
			logx.Fatalf("Failed to initialize local file system: %v", err)
		}
		c.FileSystem = localFS
		logx.Infof("  ✅ Local file system configured (path: %s)", c.Config.Backends.SnapshotPath)

	default:
		logx.Fatalf("Unknown SNAPSHOT_FS: %s (use 'local' or 's3')", c.Config.Backends.SnapshotFS)
	}
}

// ---------------------------------------------------------------------------
// Module composition — each bounded context wires itself
// ---------------------------------------------------------------------------

func (c *Container) initModules() {
	logx.Info("📦 Initializing modules...")

	// Audit fans out to the durable table and the structured log.
	c.Auditor = audit.MultiRecorder{
		auditinfra.NewBackendAuditRecorder(c.Backend),
		auditinfra.NewLogxAuditRecorder(),
	}

	iam, err := iamcontainer.New(iamcontainer.Deps{
		Backend: c.Backend,
		Cache:   c.Cache,
		Cfg:     c.Config,
		Auditor: c.Auditor,
		DB:      c.DB,
	})
	if err != nil {
		logx.Fatalf("Failed to initialize IAM: %v", err)
	}
	c.IAM = iam

	// Embedding gateway: the provider credential comes from the vault,
	// falling back to the provider's own environment convention.
	c.Embedder = c.buildEmbedder()

	graphRepo := graphinfra.NewBackendGraphRepository(c.Backend)
	c.Graph = graphsrv.NewGraphService(graphRepo)

	memoryRepo := memstoreinfra.NewBackendMemoryRepository(c.Backend)
	c.Memories = memstoresrv.NewMemoryService(
		memoryRepo,
		c.IAM.IdentityService,
		c.Vectors,
		c.Embedder,
		c.Cache,
		nil, // reindex enqueuer attached below once the reconciler exists
		c.Graph,
		c.Config.Memory,
	)

	c.Search = retrieval.NewEngine(memoryRepo, c.Vectors, c.Embedder, c.Config.Retrieval)

	if c.Jobs != nil {
		c.Reconciler = reconcile.NewReconciler(
			c.Jobs,
			c.Memories,
			c.buildNotifier(),
			c.Config.Notifx.FromAddress,
			c.Config.Notifx.AdminAddress,
		)
		c.Reconciler.RegisterHandlers()
		c.Memories.AttachReindexer(c.Reconciler)
	}

	registry, err := tooldispatch.BuildRegistry(tooldispatch.Deps{
		Memories: c.Memories,
		Graph:    c.Graph,
		Search:   c.Search,
		APIKeys:  c.IAM.APIKeyService,
	})
	if err != nil {
		logx.Fatalf("Failed to build tool registry: %v", err)
	}
	c.Dispatcher = tooldispatch.NewDispatcher(registry, c.Cache)

	// HTTP handlers
	c.MemoryHandlers = memstoreapi.NewMemoryHandlers(c.Memories)
	c.SearchHandlers = retrievalapi.NewSearchHandlers(c.Search)
	c.GraphHandlers = graphapi.NewGraphHandlers(c.Graph)
	c.ToolHandlers = tooldispatchapi.NewToolHandlers(c.Dispatcher)
}

// buildEmbedder selects the embedding provider by config and wraps it in
// the caching, rate-limited gateway.
func (c *Container) buildEmbedder() *embedgateway.Gateway {
	ctx := context.Background()
	cfg := c.Config.Embedding

	apiKey := c.revealProviderKey(cfg.Provider)

	var provider embedgateway.Embedder
	switch cfg.Provider {
	case "openai":
		provider = embedopenai.NewOpenAIProvider(apiKey)
	case "azure":
		provider = embedazure.NewAzureProvider(c.Config.Embedding.Endpoint, apiKey)
	case "gemini":
		p, err := embedgemini.NewGeminiProvider(ctx, apiKey)
		if err != nil {
			logx.Fatalf("Failed to initialize Gemini provider: %v", err)
		}
		provider = p
	case "bedrock":
		awsCfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(c.Config.Notifx.AWSRegion))
		if err != nil {
			logx.Fatalf("Unable to load AWS SDK config: %v", err)
		}
		provider = embedbedrock.NewBedrockProvider(awsCfg)
	default:
		logx.Fatalf("Unknown EMBEDDING_PROVIDER: %s", cfg.Provider)
	}

	gateway := embedgateway.NewGateway(provider, c.Cache, embedgateway.GatewayConfig{
		ProviderName:   cfg.Provider,
		Model:          cfg.Model,
		Dim:            cfg.Dim,
		CacheTTL:       cfg.CacheTTL,
		MaxConcurrency: cfg.MaxConcurrency,
		MaxRetries:     cfg.MaxRetries,
	})

	if cfg.RerankProvider == "anthropic" {
		gateway.UseReranker(embedanthropic.NewRerankProvider(c.revealProviderKey("anthropic")))
		logx.Info("  ✅ Claude reranker attached")
	}

	logx.Infof("  ✅ Embedding gateway: %s/%s (dim %d)", cfg.Provider, cfg.Model, cfg.Dim)
	return gateway
}

// revealProviderKey reads a provider credential from the vault. An empty
// result lets each provider fall back to its own env variable.
func (c *Container) revealProviderKey(provider string) string {
	key, err := c.IAM.VaultService.Reveal(context.Background(), provider+"_api_key")
	if err != nil {
		return ""
	}
	return key
}

// buildNotifier picks the alert channel for reconciliation failures.
func (c *Container) buildNotifier() *notifx.Client {
	if c.Config.Notifx.Provider == "ses" {
		awsCfg, err := awsConfig.LoadDefaultConfig(context.Background(), awsConfig.WithRegion(c.Config.Notifx.AWSRegion))
		if err != nil {
			logx.Fatalf("Unable to load AWS SDK config for SES: %v", err)
		}
		return notifx.NewClient(notifxses.NewSESProvider(ses.NewFromConfig(awsCfg), c.Config.Notifx.FromAddress))
	}
	return notifx.NewClient(notifxconsole.NewConsoleProvider())
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func (c *Container) StartBackgroundServices(ctx context.Context) {
	logx.Info("🔄 Starting background services...")
	c.IAM.StartBackgroundServices(ctx)

	if c.Jobs != nil {
		go func() {
			if err := c.Jobs.Start(ctx); err != nil {
				logx.WithError(err).Error("job client stopped")
			}
		}()
		c.Reconciler.StartGCSchedule(ctx, c.Config.Memory.GCHorizon/4)
		logx.Info("  ✅ Job workers and gc schedule started")
	}
}

func (c *Container) Cleanup() {
	logx.Info("🧹 Cleaning up resources...")

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("Error closing database: %v", err)
		} else {
			logx.Info("  ✅ Database connection closed")
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("Error closing Redis: %v", err)
		} else {
			logx.Info("  ✅ Redis connection closed")
		}
	}

	logx.Info("✅ Cleanup complete")
}
