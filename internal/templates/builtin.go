package templates

// Template is one email layout. Placeholders use {{key}}.
type Template struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

const footer = `<p style="color:#888;font-size:12px">You are receiving this email because you have a BondSphere account.
<a href="{{unsubscribeUrl}}">Manage email preferences</a></p>`

var builtins = map[string]Template{
	"notification": {
		Subject: "{{title}}",
		HTML: `<h2>Hi {{name}},</h2>
<p>{{content}}</p>
<p><a href="{{actionUrl}}">Open BondSphere</a></p>` + footer,
		Text: "Hi {{name}},\n\n{{content}}\n\nOpen BondSphere: {{actionUrl}}\n",
	},
	"digest": {
		Subject: "Your {{period}} BondSphere digest",
		HTML: `<h2>Hi {{name}}, here is your {{period}} digest</h2>
<h3>Unread notifications ({{unreadCount}})</h3>
<ul>{{notificationsHtml}}</ul>
<h3>Top posts in your communities</h3>
<ul>{{topPostsHtml}}</ul>
<h3>Community growth</h3>
<ul>{{growthHtml}}</ul>
<p>Your activity: {{postsCount}} posts, {{commentsCount}} comments, {{notificationsCount}} notifications.</p>
<p><a href="{{appUrl}}">Visit BondSphere</a></p>` + footer,
		Text: "Hi {{name}}, here is your {{period}} digest.\n\n" +
			"Unread notifications: {{unreadCount}}\n" +
			"Your activity: {{postsCount}} posts, {{commentsCount}} comments, {{notificationsCount}} notifications.\n\n" +
			"{{appUrl}}\n\nManage email preferences: {{unsubscribeUrl}}\n",
	},
	"password_reset": {
		Subject: "Reset your BondSphere password",
		HTML: `<h2>Hi {{name}},</h2>
<p>Someone asked to reset your password. The link expires in {{expiresIn}}.</p>
<p><a href="{{resetUrl}}">Reset password</a></p>
<p>If this was not you, ignore this email.</p>`,
		Text: "Hi {{name}},\n\nReset your password: {{resetUrl}}\nThe link expires in {{expiresIn}}.\n",
	},
	"verification": {
		Subject: "Verify your BondSphere email",
		HTML: `<h2>Welcome {{name}}!</h2>
<p>Confirm your address to finish setting up your account.</p>
<p><a href="{{verifyUrl}}">Verify email</a></p>`,
		Text: "Welcome {{name}}!\n\nVerify your email: {{verifyUrl}}\n",
	},
	"marketing": {
		Subject: "{{subject}}",
		HTML:    `<h2>Hi {{name}},</h2>{{bodyHtml}}` + footer,
		Text:    "Hi {{name}},\n\n{{body}}\n\nManage email preferences: {{unsubscribeUrl}}\n",
	},
}
