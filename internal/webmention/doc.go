// Package webmention defines the core types, collaborator interfaces and failure
// taxonomy shared by the receiver pipeline.
//
// A received webmention becomes a Task. Workers drive each Task through the
// resolve, verify, extract, classify and merge stages; every stage either returns
// its value or a *Failure that ends the task in the rejected state.
package webmention
