package kernel

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
	"github.com/vitali2y/redshirt/iface"
)

func TestRegistry(t *testing.T) {
	n := neko.Modern(t)

	svc := iface.Hash("svc")

	n.It("lets the first registrant win", func(t *testing.T) {
		r := NewRegistry()

		require.NoError(t, r.Register(svc, 1))

		err := r.Register(svc, 2)
		require.Equal(t, ErrAlreadyRegistered, errors.Cause(err))

		pid, err := r.Resolve(svc)
		require.NoError(t, err)
		require.Equal(t, Pid(1), pid)
	})

	n.It("treats re-registration by the owner as success", func(t *testing.T) {
		r := NewRegistry()

		require.NoError(t, r.Register(svc, 1))
		require.NoError(t, r.Register(svc, 1))
		require.Equal(t, 1, r.Owned(1))
	})

	n.It("only lets the owner unregister", func(t *testing.T) {
		r := NewRegistry()

		require.NoError(t, r.Register(svc, 1))

		err := r.Unregister(svc, 2)
		require.Equal(t, ErrNotOwner, errors.Cause(err))

		require.NoError(t, r.Unregister(svc, 1))

		_, err = r.Resolve(svc)
		require.Equal(t, ErrUnregistered, errors.Cause(err))

		err = r.Unregister(svc, 1)
		require.Equal(t, ErrNotOwner, errors.Cause(err))
	})

	n.It("revokes everything an owner holds", func(t *testing.T) {
		r := NewRegistry()

		ids := []iface.ID{iface.Hash("a"), iface.Hash("b"), iface.Hash("c")}
		for _, id := range ids {
			require.NoError(t, r.Register(id, 1))
		}
		require.NoError(t, r.Register(svc, 2))

		freed := r.RevokeAll(1)
		require.Len(t, freed, 3)
		require.ElementsMatch(t, ids, freed)

		for i := 1; i < len(freed); i++ {
			require.True(t, string(freed[i-1][:]) < string(freed[i][:]))
		}

		for _, id := range ids {
			_, err := r.Resolve(id)
			require.Equal(t, ErrUnregistered, errors.Cause(err))
		}

		require.Equal(t, 1, r.Len())
		require.Nil(t, r.RevokeAll(1))
	})

	n.It("refuses reserved interfaces", func(t *testing.T) {
		r := NewRegistry()
		r.Reserve(iface.Registration)

		err := r.Register(iface.Registration, 1)
		require.Equal(t, ErrAlreadyRegistered, errors.Cause(err))
	})

	n.It("resolves to the latest surviving registration", func(t *testing.T) {
		r := NewRegistry()
		model := make(map[iface.ID]Pid)

		ids := []iface.ID{iface.Hash("a"), iface.Hash("b"), iface.Hash("c"), iface.Hash("d")}
		rng := rand.New(rand.NewSource(42))

		for i := 0; i < 2000; i++ {
			id := ids[rng.Intn(len(ids))]
			owner := Pid(rng.Intn(3) + 1)

			switch rng.Intn(3) {
			case 0:
				err := r.Register(id, owner)
				if cur, ok := model[id]; ok && cur != owner {
					require.Error(t, err)
				} else {
					require.NoError(t, err)
					model[id] = owner
				}
			case 1:
				err := r.Unregister(id, owner)
				if cur, ok := model[id]; ok && cur == owner {
					require.NoError(t, err)
					delete(model, id)
				} else {
					require.Error(t, err)
				}
			case 2:
				r.RevokeAll(owner)
				for id, cur := range model {
					if cur == owner {
						delete(model, id)
					}
				}
			}

			for _, id := range ids {
				pid, err := r.Resolve(id)
				if want, ok := model[id]; ok {
					require.NoError(t, err)
					require.Equal(t, want, pid)
				} else {
					require.Error(t, err)
				}
			}
		}
	})

	n.Meow()
}
