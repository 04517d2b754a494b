package cmd

import (
	"strings"

	"github.com/josefmoeggis/RobotGUI/internal/profile"
	"github.com/josefmoeggis/RobotGUI/internal/util"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// completeProfileIDs provides completion for saved profile IDs.
func completeProfileIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	pm, err := loadProfileManager()
	if err != nil {
		util.ComponentLogger("completion").WithError(err).Debug("Failed to load profiles")
		return nil, cobra.ShellCompDirectiveError
	}

	var ids []string
	for _, id := range pm.IDs() {
		if strings.HasPrefix(id, toComplete) {
			ids = append(ids, id)
		}
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}

// resolveProfileIDPrefix takes a prefix string and returns the unique full
// profile ID, or an error if none or several profiles match.
func resolveProfileIDPrefix(pm *profile.Manager, prefix string) (string, error) {
	if prefix == "" {
		return "", errors.New("profile ID prefix cannot be empty")
	}

	var matched []string
	for _, id := range pm.IDs() {
		if id == prefix {
			return id, nil
		}
		if strings.HasPrefix(id, prefix) {
			matched = append(matched, id)
		}
	}

	switch len(matched) {
	case 0:
		return "", errors.Errorf(profile.ErrProfileNotFound, prefix)
	case 1:
		return matched[0], nil
	default:
		return "", errors.Errorf("multiple profiles match prefix %q: %s", prefix, strings.Join(matched, ", "))
	}
}
