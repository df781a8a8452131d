// Package store groups the card store implementations. The contract
// they satisfy (verify.CardStore) lives in the verify package; this
// package must not import database drivers or concrete clients.
package store
