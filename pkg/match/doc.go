// Package match compiles user filter expressions such as "age>=30" or
// "name=fiona" into document-store predicates.
//
// An Expression is one key/operator/value triple. A Set is a list of
// expressions that must all hold. Sets is a list of Sets of which any may
// hold; it renders as a single $match stage for an aggregation pipeline.
//
// Operators, longest first: == >= => <= =< != > < =
//
// "=" is a case-insensitive regex search on the stringified field and "!="
// is its negation. "==" is direct equality. The range operators compare the
// raw field value against the fuzzy-cast right-hand side.
package match
