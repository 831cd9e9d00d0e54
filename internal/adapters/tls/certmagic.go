// Package tls serves the API over HTTPS with certificates managed by CertMagic.
package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"

	"github.com/jobrunner/verdant/internal/config"
)

// Server wraps an HTTPS server whose certificates are obtained and renewed
// through ACME.
type Server struct {
	config config.TLSConfig
	magic  *certmagic.Config
	server *http.Server
	logger *slog.Logger
}

// NewServer prepares an HTTPS server for handler on the address and timeouts
// of srv. Nothing is requested from the CA until Start.
func NewServer(cfg config.TLSConfig, srv config.ServerConfig, handler http.Handler, logger *slog.Logger) (*Server, error) {
	if len(cfg.Domains) == 0 {
		return nil, fmt.Errorf("TLS enabled but no domains specified")
	}
	if cfg.Email == "" {
		return nil, fmt.Errorf("TLS enabled but no email specified")
	}

	magic := certmagic.NewDefault()
	if cfg.CacheDir != "" {
		magic.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}
	magic.Issuers = []certmagic.Issuer{certmagic.NewACMEIssuer(magic, issuerTemplate(cfg))}

	tlsConfig := magic.TLSConfig()
	tlsConfig.NextProtos = append([]string{"h2", "http/1.1"}, tlsConfig.NextProtos...)

	return &Server{
		config: cfg,
		magic:  magic,
		logger: logger,
		server: &http.Server{
			Addr:              srv.Address(),
			Handler:           handler,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       srv.ReadTimeout,
			WriteTimeout:      srv.WriteTimeout,
		},
	}, nil
}

// issuerTemplate configures the ACME account and challenge. A DNS subscription
// selects the Azure DNS-01 solver; otherwise TLS-ALPN is answered on the
// serving port and the HTTP challenge is off, since no plain listener exists.
func issuerTemplate(cfg config.TLSConfig) certmagic.ACMEIssuer {
	issuer := certmagic.ACMEIssuer{
		CA:     certmagic.LetsEncryptProductionCA,
		Email:  cfg.Email,
		Agreed: true,
	}
	if cfg.Staging {
		issuer.CA = certmagic.LetsEncryptStagingCA
	}

	if provider := dnsProvider(cfg.DNS); provider != nil {
		issuer.DNS01Solver = &certmagic.DNS01Solver{
			DNSManager: certmagic.DNSManager{DNSProvider: provider},
		}
		return issuer
	}
	issuer.DisableHTTPChallenge = true
	return issuer
}

// dnsProvider returns nil when no Azure subscription is configured. An empty
// client ID uses the system-assigned managed identity.
func dnsProvider(cfg config.TLSDNSConfig) *azure.Provider {
	if cfg.SubscriptionID == "" {
		return nil
	}
	return &azure.Provider{
		SubscriptionId:    cfg.SubscriptionID,
		ResourceGroupName: cfg.ResourceGroupName,
		ClientId:          cfg.ClientID,
	}
}

// Start begins certificate management in the background and serves HTTPS
// until Shutdown. Handshakes wait for a certificate to be available.
func (s *Server) Start(ctx context.Context) error {
	if err := s.magic.ManageAsync(ctx, s.config.Domains); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}

	s.logger.Info("starting HTTPS server",
		"address", s.server.Addr,
		"domains", s.config.Domains,
		"dns01", s.config.DNS.SubscriptionID != "",
	)
	return s.server.ListenAndServeTLS("", "")
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTPS server")
	return s.server.Shutdown(ctx)
}

// TLSConfig returns the TLS configuration handed to the listener.
func (s *Server) TLSConfig() *tls.Config {
	return s.server.TLSConfig
}
