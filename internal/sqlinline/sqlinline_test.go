package sqlinline

import (
	"testing"

	"github.com/TheGitano/telegram-tts-bot/internal/infra"
)

func TestQueriesCarryUniqueMarkers(t *testing.T) {
	queries := map[string]string{
		"QEnsureSchema":             QEnsureSchema,
		"QSelectQuotaRecord":        QSelectQuotaRecord,
		"QUpsertQuotaRecord":        QUpsertQuotaRecord,
		"QDeleteQuotaRecord":        QDeleteQuotaRecord,
		"QQuotaSummary":             QQuotaSummary,
		"QSelectPrincipal":          QSelectPrincipal,
		"QListPrincipals":           QListPrincipals,
		"QUpsertPrincipal":          QUpsertPrincipal,
		"QRevokePrincipal":          QRevokePrincipal,
		"QInsertPurchaseRequest":    QInsertPurchaseRequest,
		"QSelectIntegrationToken":   QSelectIntegrationToken,
		"QUpsertIntegrationToken":   QUpsertIntegrationToken,
		"QListIntegrationProviders": QListIntegrationProviders,
	}

	seen := make(map[string]string)
	for name, q := range queries {
		marker, body, err := infra.ExtractMarker(q)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if body == "" {
			t.Fatalf("%s: empty body", name)
		}
		if other, dup := seen[marker]; dup {
			t.Fatalf("%s reuses marker of %s", name, other)
		}
		seen[marker] = name
	}
}
