package core

// Ordered request/response middleware over chi. Each middleware belongs to a
// fixed category; the chain is assembled in ascending category order with a
// stable sort, so registrations within a category keep their insertion order.

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

//---------------------------------------------------------------------
// Ordering
//---------------------------------------------------------------------

// MiddlewareOrder is the fixed total order of the pipeline.
type MiddlewareOrder int

const (
	OrderPreProcessing  MiddlewareOrder = 100
	OrderAuth           MiddlewareOrder = 200
	OrderRateLimit      MiddlewareOrder = 300
	OrderEconomic       MiddlewareOrder = 400
	OrderContent        MiddlewareOrder = 500
	OrderLogging        MiddlewareOrder = 600
	OrderApplication    MiddlewareOrder = 700
	OrderPostProcessing MiddlewareOrder = 800
)

// Extended headers carried by ZHTP requests.
const (
	HeaderDAOFee          = "X-DAO-Fee"
	HeaderZKProof         = "X-ZK-Proof"
	HeaderSignature       = "X-Signature"
	HeaderZHTPVersion     = "X-ZHTP-Version"
	HeaderUBIContribution = "X-UBI-Contribution"
	HeaderUserReputation  = "X-User-Reputation"
	HeaderCountryCode     = "X-Country-Code"
)

// MethodVerify is the ZHTP-specific extended HTTP method.
const MethodVerify = "VERIFY"

// allowedMethods is the closed method set the pipeline accepts.
var allowedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodDelete: true, http.MethodHead: true, http.MethodOptions: true,
	http.MethodPatch: true, http.MethodConnect: true, http.MethodTrace: true,
	MethodVerify: true,
}

// orderedMiddleware couples a handler wrapper with its category.
type orderedMiddleware struct {
	name    string
	order   MiddlewareOrder
	wrapper func(http.Handler) http.Handler
}

// Pipeline assembles the ordered middleware chain onto a chi router.
type Pipeline struct {
	mu         sync.Mutex
	middleware []orderedMiddleware
	sealed     bool
}

// NewPipeline returns an empty pipeline.
func NewPipeline() *Pipeline { return &Pipeline{} }

// Use registers a middleware in its category. Registrations inside the same
// category keep insertion order; attempting to register after Build is an
// error, as chains may not be reordered once serving.
func (p *Pipeline) Use(name string, order MiddlewareOrder, wrapper func(http.Handler) http.Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return fmt.Errorf("%w: pipeline already built", ErrConflict)
	}
	p.middleware = append(p.middleware, orderedMiddleware{name: name, order: order, wrapper: wrapper})
	return nil
}

// Build seals the pipeline and mounts it on a fresh chi router around the
// application handler.
func (p *Pipeline) Build(app http.Handler) http.Handler {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sealed = true

	sort.SliceStable(p.middleware, func(i, j int) bool {
		return p.middleware[i].order < p.middleware[j].order
	})

	// chi answers 405 for methods missing from its own table, so the
	// extended method is registered before the route is mounted.
	chi.RegisterMethod(MethodVerify)
	r := chi.NewRouter()
	r.Use(methodFilter)
	for _, mw := range p.middleware {
		r.Use(mw.wrapper)
	}
	r.Handle("/*", app)
	return r
}

// methodFilter rejects anything outside the closed method set.
func methodFilter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowedMethods[r.Method] {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

//---------------------------------------------------------------------
// CORS (PreProcessing)
//---------------------------------------------------------------------

// CORSMiddleware answers preflight and stamps the allow headers.
func CORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (origins["*"] || origins[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, VERIFY")
				w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
					"Content-Type", HeaderDAOFee, HeaderZKProof, HeaderSignature, HeaderZHTPVersion,
				}, ", "))
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

//---------------------------------------------------------------------
// Authentication (Auth)
//---------------------------------------------------------------------

// AuthMiddleware validates the X-ZK-Proof header through the identity
// verifier; X-Signature is not checked. Requests without a proof pass
// through anonymous; requests with a bad or expired proof are rejected.
func AuthMiddleware(now func() uint64) func(http.Handler) http.Handler {
	if now == nil {
		now = func() uint64 { return uint64(time.Now().Unix()) }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			proofHeader := r.Header.Get(HeaderZKProof)
			if proofHeader == "" {
				next.ServeHTTP(w, r)
				return
			}
			var proof ZkIdentityProof
			if err := json.Unmarshal([]byte(proofHeader), &proof); err != nil {
				http.Error(w, "malformed proof", http.StatusBadRequest)
				return
			}
			result := VerifyIdentityProof(&proof, now())
			if !result.Valid || result.IsExpired {
				http.Error(w, "proof rejected", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

//---------------------------------------------------------------------
// Rate limiting (RateLimit)
//---------------------------------------------------------------------

// RateLimitMiddleware applies per-client token buckets keyed by remote IP.
func RateLimitMiddleware(requestsPerMinute int, burst int) func(http.Handler) http.Handler {
	var (
		mu      sync.Mutex
		buckets = make(map[string]*rate.Limiter)
	)
	limiterFor := func(client string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := buckets[client]
		if !ok {
			l = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
			buckets[client] = l
		}
		return l
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := r.RemoteAddr
			if i := strings.LastIndex(client, ":"); i > 0 {
				client = client[:i]
			}
			if !limiterFor(client).Allow() {
				http.Error(w, "rate limit", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

//---------------------------------------------------------------------
// Economic validation (Economic)
//---------------------------------------------------------------------

// EconomicMiddleware enforces the DAO fee floor on mutating requests and
// rejects a UBI contribution header that is not an unsigned integer; the
// contribution itself is not recorded.
func EconomicMiddleware(minDAOFee uint64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			feeHeader := r.Header.Get(HeaderDAOFee)
			if feeHeader == "" {
				http.Error(w, "missing "+HeaderDAOFee, http.StatusPaymentRequired)
				return
			}
			fee, err := strconv.ParseUint(feeHeader, 10, 64)
			if err != nil || fee < minDAOFee {
				http.Error(w, "insufficient dao fee", http.StatusPaymentRequired)
				return
			}
			if ubi := r.Header.Get(HeaderUBIContribution); ubi != "" {
				if _, err := strconv.ParseUint(ubi, 10, 64); err != nil {
					http.Error(w, "malformed ubi contribution", http.StatusBadRequest)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

//---------------------------------------------------------------------
// Compression (Content)
//---------------------------------------------------------------------

type gzipResponseWriter struct {
	http.ResponseWriter
	gz *gzip.Writer
}

func (g *gzipResponseWriter) Write(b []byte) (int, error) { return g.gz.Write(b) }

// CompressionMiddleware gzips every response for clients that accept it;
// there is no minimum size threshold.
func CompressionMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
				next.ServeHTTP(w, r)
				return
			}
			gz := gzip.NewWriter(w)
			defer gz.Close()
			w.Header().Set("Content-Encoding", "gzip")
			next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, gz: gz}, r)
		})
	}
}

//---------------------------------------------------------------------
// Logging (Logging)
//---------------------------------------------------------------------

// LoggingMiddleware records method, path, duration and reputation header.
func LoggingMiddleware(logger *logrus.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			entry := logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start).String(),
			})
			if rep := r.Header.Get(HeaderUserReputation); rep != "" {
				entry = entry.WithField("reputation", rep)
			}
			if cc := r.Header.Get(HeaderCountryCode); cc != "" {
				entry = entry.WithField("country", cc)
			}
			entry.Info("request")
		})
	}
}

//---------------------------------------------------------------------
// Default stack
//---------------------------------------------------------------------

// DefaultPipeline assembles the production middleware stack in its fixed
// order.
func DefaultPipeline(minDAOFee uint64, requestsPerMinute int) *Pipeline {
	p := NewPipeline()
	_ = p.Use("cors", OrderPreProcessing, CORSMiddleware([]string{"*"}))
	_ = p.Use("auth", OrderAuth, AuthMiddleware(nil))
	_ = p.Use("rate-limit", OrderRateLimit, RateLimitMiddleware(requestsPerMinute, requestsPerMinute/4+1))
	_ = p.Use("economic", OrderEconomic, EconomicMiddleware(minDAOFee))
	_ = p.Use("compression", OrderContent, CompressionMiddleware())
	_ = p.Use("logging", OrderLogging, LoggingMiddleware(nil))
	return p
}
