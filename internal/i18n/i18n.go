package i18n

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/iamwavecut/tool"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/Inpuzah/stafftools/resources"
)

const (
	DefaultLanguage = "en"
	messagesRoot    = "messages"
)

// Message keys. Every catalog under resources/messages defines all of them.
const (
	BanScreen        = "ban_screen"
	KickScreen       = "kick_screen"
	Warned           = "warned"
	Muted            = "muted"
	MuteDenied       = "mute_denied"
	Unmuted          = "unmuted"
	BuildBanned      = "buildbanned"
	BuildDenied      = "build_denied"
	BuildBanLifted   = "buildban_lifted"
	StaffIssued      = "staff_issued"
	StaffRemoved     = "staff_removed"
	StaffJoinHistory = "staff_join_history"
	StaffAppeal      = "staff_appeal"
	AppealApproved   = "appeal_approved"
	AppealDenied     = "appeal_denied"
)

var AllKeys = []string{
	BanScreen, KickScreen, Warned, Muted, MuteDenied, Unmuted,
	BuildBanned, BuildDenied, BuildBanLifted, StaffIssued, StaffRemoved, StaffJoinHistory,
	StaffAppeal, AppealApproved, AppealDenied,
}

type Catalog struct {
	lang         string
	fallback     map[string]string
	translations map[string]string
}

// NewCatalog loads the language catalog, falling back to English for missing keys.
func NewCatalog(lang string) (*Catalog, error) {
	fallback, err := load(DefaultLanguage)
	if err != nil {
		return nil, err
	}
	c := &Catalog{lang: lang, fallback: fallback, translations: fallback}
	if lang != "" && lang != DefaultLanguage {
		translations, err := load(lang)
		if err != nil {
			return nil, err
		}
		c.translations = translations
	}
	return c, nil
}

func (c *Catalog) Language() string {
	return c.lang
}

func (c *Catalog) Get(key string) string {
	if res, ok := c.translations[key]; ok {
		return res
	}
	if res, ok := c.fallback[key]; ok {
		return res
	}
	log.WithField("object", "Catalog").WithField("key", key).Trace("no translation for key")
	return key
}

// Render executes the message template for key with vars.
func (c *Catalog) Render(key string, vars map[string]any) string {
	return strings.TrimSpace(tool.ExecTemplate(c.Get(key), vars))
}

// SupportedLanguages lists the catalogs bundled with the binary.
func SupportedLanguages() ([]string, error) {
	entries, err := fs.ReadDir(resources.FS, messagesRoot)
	if err != nil {
		return nil, fmt.Errorf("list catalogs: %w", err)
	}
	langs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".yml" {
			continue
		}
		langs = append(langs, strings.TrimSuffix(e.Name(), ".yml"))
	}
	sort.Strings(langs)
	return langs, nil
}

func load(lang string) (map[string]string, error) {
	data, err := resources.FS.ReadFile(path.Join(messagesRoot, lang+".yml"))
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", lang, err)
	}
	translations := make(map[string]string)
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("unmarshal catalog %s: %w", lang, err)
	}
	return translations, nil
}
