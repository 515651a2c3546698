/*
Package firmadgii implements a gateway for exchanging electronic fiscal
documents (e-CF) with the Dominican tax authority (DGII) and with
counter-parties in peer-to-peer deployments.

# Overview

The gateway signs and submits the five e-CF document kinds (invoices,
consumption summaries, reception acknowledgments, commercial approvals,
and sequence voidances) across the authority's test, certification and
production environments, for any number of independently certificated
taxpayers.

# Package Structure

	github.com/ithesk/firmadgii/pkg/ecf        - document model and error taxonomy
	github.com/ithesk/firmadgii/pkg/transform  - authority XML construction and parsing
	github.com/ithesk/firmadgii/pkg/sign       - XML-DSig signing and verification
	github.com/ithesk/firmadgii/pkg/dispatch   - document routing and submission
	github.com/ithesk/firmadgii/pkg/authority  - DGII transport client
	github.com/ithesk/firmadgii/pkg/qr         - verification reference URLs
	github.com/ithesk/firmadgii/pkg/discovery  - counter-party endpoint resolution

	github.com/ithesk/firmadgii/internal/keystore  - taxpayer credential containers
	github.com/ithesk/firmadgii/internal/reception - inbound document pipeline
	github.com/ithesk/firmadgii/internal/auth      - peer seed-exchange authentication
	github.com/ithesk/firmadgii/internal/config    - YAML configuration
	github.com/ithesk/firmadgii/internal/server    - HTTP surface

	github.com/ithesk/firmadgii/cmd/ecf-gateway    - gateway binary

# Quick Start

Run the gateway with a configuration file:

	ecf-gateway -config config.yaml

Or embed the dispatcher directly:

	credentials, _ := keystore.NewFileProvider(keystore.FileProviderConfig{
		Dir:        "/etc/ecf/certs",
		Passphrase: os.Getenv("CERT_PASSPHRASE"),
	})
	d, _ := dispatch.New(dispatch.Config{
		Credentials: credentials,
		Signer:      sign.New(),
		Authority:   authority.NewHTTPClient(nil),
		References:  qr.New(),
	})
	result, err := d.Send(ctx, dispatch.SendRequest{
		Document:    invoice,
		Environment: ecf.EnvCert,
	})
*/
package firmadgii
