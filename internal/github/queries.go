// internal/github/queries.go
package github

// Query documents sent to the GitHub GraphQL endpoint. Every list field is
// paginated with a cursor; callers loop until hasNextPage is false.

const viewerQuery = `query {
	viewer {
		login
		name
		avatarUrl
		url
	}
}`

const viewerReposQuery = `query($cursor: String) {
	viewer {
		repositories(first: 100, after: $cursor, ownerAffiliations: [OWNER], orderBy: {field: PUSHED_AT, direction: DESC}) {
			pageInfo {
				hasNextPage
				endCursor
			}
			nodes {
				name
				nameWithOwner
				url
				pushedAt
				isPrivate
				defaultBranchRef { name }
			}
		}
	}
}`

const orgReposQuery = `query($org: String!, $cursor: String) {
	organization(login: $org) {
		repositories(first: 100, after: $cursor, orderBy: {field: PUSHED_AT, direction: DESC}) {
			pageInfo {
				hasNextPage
				endCursor
			}
			nodes {
				name
				nameWithOwner
				url
				pushedAt
				isPrivate
				defaultBranchRef { name }
			}
		}
	}
}`

const branchesQuery = `query($owner: String!, $name: String!, $cursor: String) {
	repository(owner: $owner, name: $name) {
		refs(refPrefix: "refs/heads/", first: 50, after: $cursor) {
			pageInfo {
				hasNextPage
				endCursor
			}
			nodes { name }
		}
	}
}`

const branchCommitsQuery = `query($owner: String!, $name: String!, $branch: String!, $since: GitTimestamp, $cursor: String) {
	repository(owner: $owner, name: $name) {
		ref(qualifiedName: $branch) {
			target {
				... on Commit {
					history(first: 100, after: $cursor, since: $since) {
						pageInfo {
							hasNextPage
							endCursor
						}
						nodes {
							abbreviatedOid
							message
							committedDate
							url
							author {
								name
								user { login }
							}
						}
					}
				}
			}
		}
	}
}`

const pullRequestsQuery = `query($owner: String!, $name: String!, $cursor: String) {
	repository(owner: $owner, name: $name) {
		pullRequests(first: 100, after: $cursor, states: [OPEN, CLOSED, MERGED], orderBy: {field: UPDATED_AT, direction: DESC}) {
			pageInfo {
				hasNextPage
				endCursor
			}
			nodes {
				number
				title
				state
				url
				createdAt
				updatedAt
				mergedAt
				author { login }
			}
		}
	}
}`
