// Package risk provides IP intelligence oracles for GeoIP and reputation enrichment
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/riskgate/riskgate/internal/common/database"
)

// GeoIPResult is the outcome of a GeoIP lookup enriched with proxy signals
type GeoIPResult struct {
	IPAddress   string    `json:"ip_address"`
	Country     string    `json:"country"`
	CountryCode string    `json:"country_code"`
	City        string    `json:"city"`
	Region      string    `json:"region"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	ISP         string    `json:"isp"`
	Org         string    `json:"organization"`
	ASNumber    string    `json:"as_number"`
	IsProxy     bool      `json:"is_proxy"`
	IsVPN       bool      `json:"is_vpn"`
	IsTor       bool      `json:"is_tor"`
	IsHosting   bool      `json:"is_hosting"`
	LookupTime  time.Time `json:"lookup_time"`
}

// GeoIPOracle resolves an IP address to a geographic location and proxy signals.
// Implementations must honor ctx cancellation; the engine bounds each call.
type GeoIPOracle interface {
	Lookup(ctx context.Context, ip string) (*GeoIPResult, error)
}

// ReputationOracle scores an IP address from 0 (known bad) to 1 (known good)
type ReputationOracle interface {
	Score(ctx context.Context, ip string) (float64, error)
}

// OracleConfig holds configuration for the IP intelligence oracles
type OracleConfig struct {
	GeoIPCacheTTL      time.Duration
	ReputationCacheTTL time.Duration
	HTTPTimeout        time.Duration
	HighRiskCountries  []string // ISO country codes
}

// DefaultOracleConfig returns default oracle configuration
func DefaultOracleConfig() OracleConfig {
	return OracleConfig{
		GeoIPCacheTTL:      24 * time.Hour,
		ReputationCacheTTL: 6 * time.Hour,
		HTTPTimeout:        5 * time.Second,
		HighRiskCountries:  []string{"KP", "IR", "SY", "CU"},
	}
}

// IPIntelligence provides cached GeoIP and reputation lookups backed by
// external HTTP providers
type IPIntelligence struct {
	redis    *database.RedisClient
	config   OracleConfig
	client   *http.Client
	logger   *zap.Logger
	highRisk map[string]struct{}
}

// NewIPIntelligence creates an IP intelligence service
func NewIPIntelligence(redis *database.RedisClient, config OracleConfig, logger *zap.Logger) *IPIntelligence {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HTTPTimeout == 0 {
		config.HTTPTimeout = 5 * time.Second
	}

	highRisk := make(map[string]struct{}, len(config.HighRiskCountries))
	for _, cc := range config.HighRiskCountries {
		highRisk[strings.ToUpper(cc)] = struct{}{}
	}

	return &IPIntelligence{
		redis:    redis,
		config:   config,
		client:   &http.Client{Timeout: config.HTTPTimeout},
		logger:   logger.With(zap.String("component", "ip_intelligence")),
		highRisk: highRisk,
	}
}

// IsHighRiskCountry reports whether the country code is on the configured high-risk list
func (i *IPIntelligence) IsHighRiskCountry(countryCode string) bool {
	_, ok := i.highRisk[strings.ToUpper(countryCode)]
	return ok
}

// Lookup performs a GeoIP lookup with Redis caching
func (i *IPIntelligence) Lookup(ctx context.Context, ip string) (*GeoIPResult, error) {
	// Private and loopback addresses never leave the network
	if parsedIP := net.ParseIP(ip); parsedIP != nil {
		if parsedIP.IsLoopback() || parsedIP.IsPrivate() || parsedIP.IsLinkLocalUnicast() {
			return &GeoIPResult{
				IPAddress:   ip,
				Country:     "Local",
				CountryCode: "LO",
				City:        "Local",
				LookupTime:  time.Now(),
			}, nil
		}
	}

	cacheKey := fmt.Sprintf("geoip:%s", ip)
	if i.redis != nil {
		cached, err := i.redis.Client.Get(ctx, cacheKey).Result()
		if err == nil {
			var result GeoIPResult
			if json.Unmarshal([]byte(cached), &result) == nil {
				return &result, nil
			}
		}
	}

	result, err := i.lookupIPAPI(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("geoip lookup failed: %w", err)
	}

	result.IsVPN = result.IsVPN || i.matchesVPNProvider(result)
	if result.IsVPN || result.IsTor {
		result.IsProxy = true
	}

	if i.redis != nil {
		data, _ := json.Marshal(result)
		i.redis.Client.Set(ctx, cacheKey, data, i.config.GeoIPCacheTTL)
	}

	return result, nil
}

// lookupIPAPI uses ip-api.com for GeoIP lookup (free tier)
func (i *IPIntelligence) lookupIPAPI(ctx context.Context, ip string) (*GeoIPResult, error) {
	url := fmt.Sprintf("http://ip-api.com/json/%s?fields=status,country,countryCode,city,regionName,lat,lon,isp,org,as,proxy,hosting,query", ip)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var apiResponse struct {
		Status      string  `json:"status"`
		Country     string  `json:"country"`
		CountryCode string  `json:"countryCode"`
		City        string  `json:"city"`
		Region      string  `json:"regionName"`
		Lat         float64 `json:"lat"`
		Lon         float64 `json:"lon"`
		ISP         string  `json:"isp"`
		Org         string  `json:"org"`
		AS          string  `json:"as"`
		Proxy       bool    `json:"proxy"`
		Hosting     bool    `json:"hosting"`
		Query       string  `json:"query"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, err
	}

	if apiResponse.Status != "success" {
		return nil, fmt.Errorf("ip-api returned status: %s", apiResponse.Status)
	}

	asNumber := ""
	if parts := strings.Split(apiResponse.AS, " "); len(parts) > 0 {
		asNumber = parts[0]
	}

	return &GeoIPResult{
		IPAddress:   apiResponse.Query,
		Country:     apiResponse.Country,
		CountryCode: apiResponse.CountryCode,
		City:        apiResponse.City,
		Region:      apiResponse.Region,
		Latitude:    apiResponse.Lat,
		Longitude:   apiResponse.Lon,
		ISP:         apiResponse.ISP,
		Org:         apiResponse.Org,
		ASNumber:    asNumber,
		IsProxy:     apiResponse.Proxy,
		IsHosting:   apiResponse.Hosting,
		LookupTime:  time.Now(),
	}, nil
}

// matchesVPNProvider checks the ISP/org names and AS number against known VPN providers
func (i *IPIntelligence) matchesVPNProvider(geo *GeoIPResult) bool {
	vpnKeywords := []string{"vpn", "virtual private", "nordvpn", "expressvpn",
		"cyberghost", "private internet access", "mullvad",
		"protonvpn", "surfshark", "hidemyass"}
	ispLower := strings.ToLower(geo.ISP)
	orgLower := strings.ToLower(geo.Org)

	for _, keyword := range vpnKeywords {
		if strings.Contains(ispLower, keyword) || strings.Contains(orgLower, keyword) {
			return true
		}
	}

	vpnASNs := []string{"AS51177", "AS20473", "AS39421", "AS49981"}
	for _, asn := range vpnASNs {
		if geo.ASNumber == asn {
			return true
		}
	}

	return false
}

// Score returns a reputation score for an IP with Redis caching. The score
// is derived from the GeoIP proxy signals; a dedicated reputation provider
// can be layered behind the same interface.
func (i *IPIntelligence) Score(ctx context.Context, ip string) (float64, error) {
	cacheKey := fmt.Sprintf("iprep:%s", ip)
	if i.redis != nil {
		cached, err := i.redis.Client.Get(ctx, cacheKey).Result()
		if err == nil {
			var score float64
			if json.Unmarshal([]byte(cached), &score) == nil {
				return score, nil
			}
		}
	}

	geo, err := i.Lookup(ctx, ip)
	if err != nil {
		return 0, err
	}

	score := 1.0
	if geo.IsTor {
		score = 0.1
	} else if geo.IsProxy {
		score = 0.3
	} else if geo.IsVPN {
		score = 0.4
	} else if geo.IsHosting {
		score = 0.6
	}

	if i.redis != nil {
		data, _ := json.Marshal(score)
		i.redis.Client.Set(ctx, cacheKey, data, i.config.ReputationCacheTTL)
	}

	return score, nil
}

// StaticGeoIP is a fixed-answer GeoIP oracle for tests and air-gapped deployments
type StaticGeoIP struct {
	Results map[string]*GeoIPResult
	Err     error
}

// Lookup returns the configured result for the IP
func (s *StaticGeoIP) Lookup(_ context.Context, ip string) (*GeoIPResult, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if r, ok := s.Results[ip]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("no geoip record for %s", ip)
}

// StaticReputation is a fixed-answer reputation oracle for tests
type StaticReputation struct {
	Scores map[string]float64
	Err    error
}

// Score returns the configured score for the IP
func (s *StaticReputation) Score(_ context.Context, ip string) (float64, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	if v, ok := s.Scores[ip]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("no reputation record for %s", ip)
}
