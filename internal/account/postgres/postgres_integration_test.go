// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"
	"net/netip"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/fleetauth/internal/account"
	"github.com/holomush/fleetauth/internal/account/postgres"
)

var _ = Describe("account repositories", func() {
	var (
		ctx      context.Context
		accounts *postgres.AccountRepository
		sessions *postgres.SessionRepository
		legacy   *postgres.LegacyRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		resetTables(ctx)
		s, err := postgres.New(testPool)
		Expect(err).NotTo(HaveOccurred())
		accounts, sessions, legacy = s.Accounts(), s.Sessions(), s.Legacy()
	})

	insert := func(username string) int64 {
		id, err := accounts.Insert(ctx, username, testDigest())
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	Describe("accounts", func() {
		It("inserts with defaults and rejects duplicate usernames", func() {
			id := insert("alice")

			acc, err := accounts.SelectByUsername(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(acc.ID).To(Equal(id))
			Expect(acc.Rank).To(Equal(account.RankEveryone))
			Expect(acc.Revision).To(Equal(int64(1)))
			Expect(acc.Metadata).To(BeEmpty())

			_, err = accounts.Insert(ctx, "alice", testDigest())
			Expect(err).To(MatchError(account.ErrUsernameTaken))

			_, err = accounts.SelectByUsername(ctx, "Alice")
			Expect(err).To(MatchError(account.ErrNotFound))
		})

		It("bumps the revision only on change", func() {
			id := insert("bob")

			changed, err := accounts.UpdateAchievement(ctx, id, account.AchievementGamer, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())

			changed, err = accounts.UpdateAchievement(ctx, id, account.AchievementGamer, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())

			changed, err = accounts.UpdateMetadata(ctx, id, "color", "blue")
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())

			changed, err = accounts.UpdateMetadata(ctx, id, "color", "blue")
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())

			changed, err = accounts.UpdateRank(ctx, id, account.RankEveryone)
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())

			acc, err := accounts.SelectByID(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(acc.Revision).To(Equal(int64(3)))
			Expect(acc.Achievements.Has(account.AchievementGamer)).To(BeTrue())
			Expect(acc.Metadata).To(Equal(map[string]string{"color": "blue"}))
		})

		It("increments counters atomically", func() {
			id := insert("carol")

			var wg sync.WaitGroup
			for range 20 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					_, err := accounts.IncrementGames(ctx, id)
					Expect(err).NotTo(HaveOccurred())
					_, err = accounts.IncrementPlaytime(ctx, id, 1500*time.Millisecond)
					Expect(err).NotTo(HaveOccurred())
				}()
			}
			wg.Wait()

			acc, err := accounts.SelectByID(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(acc.Games).To(Equal(20))
			Expect(acc.Playtime).To(Equal(20 * time.Second))
			Expect(acc.Revision).To(Equal(int64(41)))
		})

		It("links and finds a chat identity", func() {
			id := insert("dave")
			_, err := accounts.UpdateDiscord(ctx, id, 4242)
			Expect(err).NotTo(HaveOccurred())

			acc, err := accounts.SelectByDiscord(ctx, 4242)
			Expect(err).NotTo(HaveOccurred())
			Expect(acc.ID).To(Equal(id))
		})

		It("fails mutations of unknown accounts", func() {
			_, err := accounts.IncrementGames(ctx, 999)
			Expect(err).To(MatchError(account.ErrAccountNotFound))
		})

		It("round-trips the password digest", func() {
			id := insert("erin")
			digest, err := accounts.SelectPasswordByID(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(*digest).To(Equal(testDigest()))
		})
	})

	Describe("sessions", func() {
		key := account.SessionKey{UUID: "c0ffee", USID: "u-1", Address: netip.MustParseAddr("2001:db8::7")}
		expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

		It("upserts, reads and deletes", func() {
			id := insert("frank")
			Expect(sessions.Upsert(ctx, &account.Session{Key: key, Server: "a", AccountID: id, ExpiresAt: expires})).To(Succeed())
			Expect(sessions.Upsert(ctx, &account.Session{Key: key, Server: "b", AccountID: id, ExpiresAt: expires.Add(time.Hour)})).To(Succeed())

			got, err := sessions.SelectByKey(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Server).To(Equal("b"))
			Expect(got.Key).To(Equal(key))
			Expect(got.ExpiresAt).To(BeTemporally("==", expires.Add(time.Hour)))

			all, err := sessions.SelectByAccount(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))

			deleted, err := sessions.DeleteByAccount(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeTrue())

			deleted, err = sessions.DeleteByKey(ctx, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(deleted).To(BeFalse())
		})

		It("refuses sessions for unknown accounts", func() {
			err := sessions.Upsert(ctx, &account.Session{Key: key, Server: "a", AccountID: 404, ExpiresAt: expires})
			Expect(err).To(MatchError(account.ErrAccountNotFound))
		})
	})

	Describe("legacy", func() {
		It("reads reserved names and their digests", func() {
			_, err := testPool.Exec(ctx,
				`INSERT INTO legacy_account (username, password_hash, password_salt) VALUES ($1, $2, $3)`,
				"oldtimer", []byte{1}, []byte{2})
			Expect(err).NotTo(HaveOccurred())

			exists, err := legacy.ExistsByUsername(ctx, "oldtimer")
			Expect(err).NotTo(HaveOccurred())
			Expect(exists).To(BeTrue())

			digest, err := legacy.SelectPasswordByUsername(ctx, "oldtimer")
			Expect(err).NotTo(HaveOccurred())
			Expect(digest.Params.Algorithm).To(Equal(account.AlgorithmPBKDF2SHA256))
		})
	})
})
