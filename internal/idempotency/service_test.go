package idempotency_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/paylinehq/payline/internal/idempotency"
	"github.com/paylinehq/payline/internal/intent"
)

func TestService_Admit(t *testing.T) {
	completedID := uuid.New()

	type testCase struct {
		name      string
		setupMock func(repo *idempotency.MockRepository)
		wantAdm   intent.Admission
		wantID    uuid.UUID
		wantErr   error
	}

	tests := []testCase{
		{
			name: "FreshKeyWins",
			setupMock: func(repo *idempotency.MockRepository) {
				repo.EXPECT().
					Insert(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, rec *idempotency.Record) (*idempotency.Record, bool, error) {
						rec.CreatedAt = time.Now()
						return rec, true, nil
					})
			},
			wantAdm: intent.AdmitFresh,
		},
		{
			name: "DuplicatePending",
			setupMock: func(repo *idempotency.MockRepository) {
				repo.EXPECT().
					Insert(gomock.Any(), gomock.Any()).
					Return(&idempotency.Record{
						Key:         "key",
						Fingerprint: "fp",
						Status:      idempotency.StatusPending,
						CreatedAt:   time.Now(),
					}, false, nil)
			},
			wantAdm: intent.AdmitPending,
		},
		{
			name: "DuplicateCompleted",
			setupMock: func(repo *idempotency.MockRepository) {
				repo.EXPECT().
					Insert(gomock.Any(), gomock.Any()).
					Return(&idempotency.Record{
						Key:         "key",
						Fingerprint: "fp",
						Status:      idempotency.StatusCompleted,
						IntentID:    completedID,
						CreatedAt:   time.Now(),
					}, false, nil)
			},
			wantAdm: intent.AdmitCompleted,
			wantID:  completedID,
		},
		{
			name: "FingerprintMismatch",
			setupMock: func(repo *idempotency.MockRepository) {
				repo.EXPECT().
					Insert(gomock.Any(), gomock.Any()).
					Return(&idempotency.Record{
						Key:         "key",
						Fingerprint: "other-fp",
						Status:      idempotency.StatusPending,
						CreatedAt:   time.Now(),
					}, false, nil)
			},
			wantErr: intent.ErrIdempotencyConflict,
		},
		{
			name: "StalePendingReclaimed",
			setupMock: func(repo *idempotency.MockRepository) {
				repo.EXPECT().
					Insert(gomock.Any(), gomock.Any()).
					Return(&idempotency.Record{
						Key:         "key",
						Fingerprint: "fp",
						Status:      idempotency.StatusPending,
						CreatedAt:   time.Now().Add(-2 * time.Minute),
					}, false, nil)
				repo.EXPECT().
					Reclaim(gomock.Any(), "key", gomock.Any()).
					Return(true, nil)
			},
			wantAdm: intent.AdmitFresh,
		},
		{
			name: "StalePendingReclaimLost",
			setupMock: func(repo *idempotency.MockRepository) {
				repo.EXPECT().
					Insert(gomock.Any(), gomock.Any()).
					Return(&idempotency.Record{
						Key:         "key",
						Fingerprint: "fp",
						Status:      idempotency.StatusPending,
						CreatedAt:   time.Now().Add(-2 * time.Minute),
					}, false, nil)
				repo.EXPECT().
					Reclaim(gomock.Any(), "key", gomock.Any()).
					Return(false, nil)
			},
			wantAdm: intent.AdmitPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			repo := idempotency.NewMockRepository(ctrl)
			if tt.setupMock != nil {
				tt.setupMock(repo)
			}

			svc := idempotency.NewService(repo, time.Minute)
			adm, id, err := svc.Admit(context.Background(), "key", "fp")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantAdm, adm)
			assert.Equal(t, tt.wantID, id)
		})
	}
}
