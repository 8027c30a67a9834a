package script

import (
	"fmt"
	"slices"

	"github.com/spf13/afero"
)

// Factory implements the LoaderFactory interface
type Factory struct {
	fs                 afero.Fs
	limits             SecurityLimits
	supportedLanguages []ScriptLanguage
}

// NewFactory creates a loader factory reading script sources from fs
func NewFactory(fs afero.Fs, limits SecurityLimits) *Factory {
	return &Factory{
		fs:     fs,
		limits: limits,
		supportedLanguages: []ScriptLanguage{
			LanguageGo,
			LanguageTengo,
		},
	}
}

// CreateLoader returns a loader for the specified language
func (f *Factory) CreateLoader(language ScriptLanguage) (ModuleLoader, error) {
	switch language {
	case LanguageGo:
		return NewYaegiLoader(f.fs, f.limits), nil
	case LanguageTengo:
		return NewTengoLoader(f.fs, f.limits), nil
	default:
		return nil, fmt.Errorf("unsupported script language: %s", language)
	}
}

// SupportedLanguages returns all supported script languages
func (f *Factory) SupportedLanguages() []ScriptLanguage {
	return slices.Clone(f.supportedLanguages)
}

// NewLoader combines the compiled-in modules with a loader per language
func NewLoader(factory LoaderFactory, static []Module, languages ...ScriptLanguage) (*RootLoader, error) {
	loaders := make([]ModuleLoader, 0, len(languages))
	for _, lang := range languages {
		l, err := factory.CreateLoader(lang)
		if err != nil {
			return nil, err
		}
		loaders = append(loaders, l)
	}
	return NewRootLoader(static, loaders...), nil
}
