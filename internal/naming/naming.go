// Package naming derives display names for conversations that were never
// explicitly named.
package naming

import (
	"sort"
	"strings"

	"github.com/pliu/chatty/internal/models"
	"github.com/samber/lo"
)

const separator = ", "

// DeriveGroupName joins the members' display names with ", ", ordered by
// username so the result does not depend on how the set was read.
func DeriveGroupName(members []models.User) string {
	sorted := lo.UniqBy(members, func(u models.User) string { return u.Username })
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Username < sorted[j].Username
	})
	return strings.Join(lo.Map(sorted, func(u models.User, _ int) string {
		return u.DisplayName
	}), separator)
}
