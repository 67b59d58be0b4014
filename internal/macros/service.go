package macros

import (
	"time"

	"go.uber.org/zap"

	"github.com/patrickwarner/adcortex-go/pkg/models"
)

// DefaultContextTemplate is the phrasing used to hand an ad to the assistant
// when the caller does not supply a template.
const DefaultContextTemplate = "Here is a product the user might like: {ad_title} - {ad_description}: here is a sample way to present it: {placement_template}"

// Service renders context strings for ads using a fixed template.
type Service struct {
	expander *Expander
	template string
	logger   *zap.Logger
}

// NewService creates a context service. An empty template selects
// DefaultContextTemplate.
func NewService(logger *zap.Logger, template string, strict bool) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newService(NewExpanderWithMode(logger, strict), logger, template)
}

// NewServiceForTesting creates a context service with isolated metrics.
func NewServiceForTesting(logger *zap.Logger, template string, strict bool) *Service {
	return newService(NewExpanderForTesting(logger, strict), logger, template)
}

func newService(expander *Expander, logger *zap.Logger, template string) *Service {
	if template == "" {
		template = DefaultContextTemplate
	}
	s := &Service{
		expander: expander,
		template: template,
		logger:   logger.Named("context_formatter"),
	}
	if unknown := expander.ValidateTemplate(template); len(unknown) > 0 {
		s.logger.Warn("Context template references unregistered placeholders",
			zap.Strings("placeholders", unknown))
	}
	return s
}

// Template returns the template in use.
func (s *Service) Template() string {
	return s.template
}

// RegisterCustomMacro allows registration of additional placeholders.
func (s *Service) RegisterCustomMacro(name string, expansionFunc ExpansionFunc) error {
	return s.expander.RegisterMacro(name, expansionFunc)
}

// GetRegisteredMacros returns a list of all registered placeholder names.
func (s *Service) GetRegisteredMacros() []string {
	return s.expander.GetRegisteredMacros()
}

// ValidateTemplate reports unregistered placeholders in template.
func (s *Service) ValidateTemplate(template string) []string {
	return s.expander.ValidateTemplate(template)
}

// FormatAd renders the service template for ad. A nil ad yields an empty string.
func (s *Service) FormatAd(ad *models.Ad, sessionID string) (string, error) {
	return s.FormatAdWith(s.template, ad, sessionID, nil)
}

// FormatAdWith renders an explicit template, with optional extra values.
func (s *Service) FormatAdWith(template string, ad *models.Ad, sessionID string, values map[string]string) (string, error) {
	if ad == nil {
		return "", nil
	}
	ctx := &ExpansionContext{
		Ad:        *ad,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Values:    values,
	}
	return s.expander.Expand(template, ctx)
}
