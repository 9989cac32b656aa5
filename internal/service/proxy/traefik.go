package proxy

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Traefik dynamic-configuration document model. Only the subset the panel
// emits is declared.
type document struct {
	HTTP httpSection `yaml:"http"`
}

type httpSection struct {
	Routers     map[string]router     `yaml:"routers,omitempty"`
	Middlewares map[string]middleware `yaml:"middlewares,omitempty"`
	Services    map[string]service    `yaml:"services,omitempty"`
}

type router struct {
	Rule        string     `yaml:"rule"`
	EntryPoints []string   `yaml:"entryPoints"`
	Service     string     `yaml:"service"`
	Priority    int        `yaml:"priority"`
	Middlewares []string   `yaml:"middlewares,omitempty"`
	TLS         *routerTLS `yaml:"tls,omitempty"`
}

type routerTLS struct {
	CertResolver string `yaml:"certResolver"`
}

type middleware struct {
	RedirectScheme *redirectScheme `yaml:"redirectScheme,omitempty"`
}

type redirectScheme struct {
	Scheme    string `yaml:"scheme"`
	Permanent bool   `yaml:"permanent"`
}

type service struct {
	LoadBalancer loadBalancer `yaml:"loadBalancer"`
}

type loadBalancer struct {
	Servers     []server     `yaml:"servers"`
	HealthCheck *healthCheck `yaml:"healthCheck,omitempty"`
}

type server struct {
	URL string `yaml:"url"`
}

type healthCheck struct {
	Path string `yaml:"path"`
}

const (
	certResolver       = "letsencrypt"
	redirectMiddleware = "https-redirect"

	entrySecure = "websecure"
	entryPlain  = "web"

	prioritySecure   = 10
	priorityRedirect = 5
)

// buildDocument assembles the routing document for one project. For each
// present domain it emits a TLS-terminating router on the secure entry
// point and a plaintext router that upgrades the scheme, plus one backend
// service declaration.
func buildDocument(slug string, spec RouteSpec) (document, error) {
	if spec.APIDomain == "" && spec.StudioDomain == "" {
		return document{}, fmt.Errorf("proxy: render for %q needs at least one domain", slug)
	}

	doc := document{HTTP: httpSection{
		Routers:     make(map[string]router),
		Middlewares: map[string]middleware{redirectMiddleware: {RedirectScheme: &redirectScheme{Scheme: "https", Permanent: true}}},
		Services:    make(map[string]service),
	}}

	if spec.APIDomain != "" {
		name := slug + "-api"
		addRouterPair(doc.HTTP.Routers, name, spec.APIDomain)
		lb := loadBalancer{Servers: []server{{URL: spec.APIUpstream()}}}
		if spec.HealthPath != "" {
			lb.HealthCheck = &healthCheck{Path: spec.HealthPath}
		}
		doc.HTTP.Services[name] = service{LoadBalancer: lb}
	}

	if spec.StudioDomain != "" {
		name := slug + "-studio"
		addRouterPair(doc.HTTP.Routers, name, spec.StudioDomain)
		doc.HTTP.Services[name] = service{LoadBalancer: loadBalancer{
			Servers: []server{{URL: spec.StudioUpstream()}},
		}}
	}

	return doc, nil
}

func addRouterPair(routers map[string]router, name, domain string) {
	rule := fmt.Sprintf("Host(`%s`)", domain)
	routers[name] = router{
		Rule:        rule,
		EntryPoints: []string{entrySecure},
		Service:     name,
		Priority:    prioritySecure,
		TLS:         &routerTLS{CertResolver: certResolver},
	}
	routers[name+"-http"] = router{
		Rule:        rule,
		EntryPoints: []string{entryPlain},
		Service:     name,
		Priority:    priorityRedirect,
		Middlewares: []string{redirectMiddleware},
	}
}

func marshalDocument(doc document) ([]byte, error) {
	return yaml.Marshal(doc)
}
