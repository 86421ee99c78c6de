// Package router implements the Order Subscription Router.
//
// The Router binds channels to order references after checking that the
// authenticated subscriber owns the order, and answers the registry's
// "who is subscribed to this order" queries during scoped broadcasts.
//
// Both directions of the mapping are kept so that a departing channel can
// be removed from every order it followed in one step.
package router
