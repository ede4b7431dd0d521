package descriptor

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sidkik/packsync/pkg/errors"
)

const (
	// LoaderLibraryHost serves the libraries of the loader ecosystem.
	LoaderLibraryHost = "https://maven.fabricmc.net/"

	// PlatformLibraryHost serves every other library.
	PlatformLibraryHost = "https://libraries.minecraft.net/"
)

// loaderGroups are substrings of the library groups that are served by
// LoaderLibraryHost.
var loaderGroups = []string{"fabricmc", "ow2", "jetbrains"}

// argumentClasses are the argument lists that are concatenated by Merge.
var argumentClasses = []string{"game", "jvm"}

// Artifact is the download information of a library jar.
type Artifact struct {
	Path string `json:"path"`
	URL  string `json:"url"`
	Size int64  `json:"size"`
}

// Merge combines a loader profile with the profile of the base platform
// version it builds on. The result is a self-contained descriptor for `id`.
//
// Libraries are deduplicated by group and artifact, and the loader's entries
// win. Base arguments come before loader arguments. Assets and downloads are
// taken from the base profile. Libraries without an artifact download get
// one pointing at their maven path.
func Merge(id ID, loader, base Document) (Document, error) {
	merged := Document{}
	for k, v := range loader {
		merged[k] = v
	}

	libraries, err := mergeLibraries(loader, base)
	if err != nil {
		return nil, errors.WithContext(err, "merge libraries")
	}
	if err := merged.Set("libraries", libraries); err != nil {
		return nil, err
	}

	arguments, err := mergeArguments(loader, base)
	if err != nil {
		return nil, errors.WithContext(err, "merge arguments")
	}
	if err := merged.Set("arguments", arguments); err != nil {
		return nil, err
	}

	for _, key := range []string{"assets", "assetIndex", "downloads"} {
		merged.copyField(base, key)
	}

	delete(merged, "inheritsFrom")
	if err := merged.Set("id", id.Raw); err != nil {
		return nil, err
	}
	return merged, nil
}

func mergeLibraries(loader, base Document) ([]Document, error) {
	loaderLibs, err := loader.documents("libraries")
	if err != nil {
		return nil, err
	}
	baseLibs, err := base.documents("libraries")
	if err != nil {
		return nil, err
	}

	present := map[string]struct{}{}
	for _, lib := range loaderLibs {
		present[libraryKey(lib.StringField("name"))] = struct{}{}
	}

	libraries := append([]Document{}, loaderLibs...)
	for _, lib := range baseLibs {
		if _, ok := present[libraryKey(lib.StringField("name"))]; !ok {
			libraries = append(libraries, lib)
		}
	}

	for i, lib := range libraries {
		if err := ensureArtifact(lib); err != nil {
			return nil, errors.WithContext(err, fmt.Sprintf("library %d", i))
		}
	}
	return libraries, nil
}

func mergeArguments(loader, base Document) (Document, error) {
	arguments := Document{}
	if _, err := loader.Get("arguments", &arguments); err != nil {
		return nil, err
	}
	if arguments == nil {
		arguments = Document{}
	}

	var baseArguments Document
	if ok, err := base.Get("arguments", &baseArguments); err != nil || !ok {
		return arguments, err
	}

	for _, class := range argumentClasses {
		baseList, err := baseArguments.rawList(class)
		if err != nil {
			return nil, err
		}
		loaderList, err := arguments.rawList(class)
		if err != nil {
			return nil, err
		}

		list := append(append([]json.RawMessage{}, baseList...), loaderList...)
		if err := arguments.Set(class, list); err != nil {
			return nil, err
		}
	}
	return arguments, nil
}

// ensureArtifact adds an artifact download to the library if it doesn't
// have one. Libraries whose name isn't a full maven coordinate are left
// untouched.
func ensureArtifact(lib Document) error {
	coords := strings.Split(lib.StringField("name"), ":")
	if len(coords) < 3 {
		return nil
	}

	downloads := Document{}
	if _, err := lib.Get("downloads", &downloads); err != nil {
		return err
	}
	if downloads == nil {
		downloads = Document{}
	}
	if downloads.Has("artifact") {
		return nil
	}

	group, name, version := coords[0], coords[1], coords[2]
	path := fmt.Sprintf("%s/%s/%s/%s-%s.jar",
		strings.Replace(group, ".", "/", -1), name, version, name, version)

	if err := downloads.Set("artifact", Artifact{
		Path: path,
		URL:  libraryHost(lib, group) + path,
	}); err != nil {
		return err
	}
	return lib.Set("downloads", downloads)
}

func libraryHost(lib Document, group string) string {
	if url := lib.StringField("url"); url != "" {
		return url
	}
	for _, loaderGroup := range loaderGroups {
		if strings.Contains(group, loaderGroup) {
			return LoaderLibraryHost
		}
	}
	return PlatformLibraryHost
}

// libraryKey returns the group and artifact of a maven coordinate. Versions
// and classifiers are ignored so that two versions of the same library
// collide.
func libraryKey(name string) string {
	coords := strings.SplitN(name, ":", 3)
	if len(coords) < 2 {
		return name
	}
	return coords[0] + ":" + coords[1]
}
