package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestToDomainErrorMapsNoRows(t *testing.T) {
	t.Parallel()

	de := ToDomainError(fmt.Errorf("load: %w", pgx.ErrNoRows))
	if de.Code != "NOT_FOUND" || de.HTTPStatus != http.StatusNotFound {
		t.Fatalf("got %s/%d", de.Code, de.HTTPStatus)
	}
}

func TestToDomainErrorKeepsDomainErrors(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", NewStateError(CodeConversationClosed, "conversation closed", nil))
	de := ToDomainError(err)
	if de.Code != CodeConversationClosed || de.HTTPStatus != http.StatusConflict {
		t.Fatalf("got %s/%d", de.Code, de.HTTPStatus)
	}
	if !HasCode(err, CodeConversationClosed) {
		t.Fatalf("HasCode should see through wrapping")
	}
}

func TestToDomainErrorInternal(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	de := ToDomainError(cause)
	if de.HTTPStatus != http.StatusInternalServerError || !errors.Is(de, cause) {
		t.Fatalf("unexpected mapping %+v", de)
	}
	if ToDomainError(nil) != nil {
		t.Fatalf("nil should map to nil")
	}
}
